package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInvoice() *InvoiceRecord {
	return &InvoiceRecord{
		ID:             InvoiceRecordID("f-2023-03"),
		Content:        "fatura de março/2023 consumo 310 kwh",
		InvoiceID:      "f-2023-03",
		ClientID:       "c-1",
		ReferenceMonth: "03/2023",
		Consumption:    Consumption{TotalKWh: 310, DailyAverageKWh: 10.33},
		Amounts:        Amounts{Total: 287.5, TariffFlag: "amarela"},
	}
}

func TestDecodeRecord_Variants(t *testing.T) {
	records := []Record{
		&ClientRecord{ID: ClientRecordID("c-1"), ClientID: "c-1", Name: "Maria", Number: "123456",
			Address: Address{City: "Recife", State: "PE"}},
		sampleInvoice(),
		&AnalysisRecord{ID: AnalysisRecordID("c-1"), ClientID: "c-1", InvoiceCount: 12,
			Period: Period{Start: "01/2023", End: "12/2023"}},
	}
	for _, rec := range records {
		t.Run(string(rec.Type()), func(t *testing.T) {
			data, err := json.Marshal(rec)
			require.NoError(t, err)

			var tag struct {
				Type RecordType `json:"tipo"`
			}
			require.NoError(t, json.Unmarshal(data, &tag))
			assert.Equal(t, rec.Type(), tag.Type)

			got, err := DecodeRecord(data)
			require.NoError(t, err)
			assert.Equal(t, rec, got)
		})
	}
}

func TestDecodeRecord_UnknownType(t *testing.T) {
	_, err := DecodeRecord([]byte(`{"tipo":"sessao","id":"x"}`))
	assert.Error(t, err)
	_, err = DecodeRecord([]byte(`not json`))
	assert.Error(t, err)
}

func TestFilter_Matches(t *testing.T) {
	inv := sampleInvoice()
	client := &ClientRecord{ID: "cliente_c-1", ClientID: "c-1", Number: "123456"}

	assert.True(t, Filter{}.Matches(inv))
	assert.True(t, Filter{"tipo": "fatura", "cliente_id": "c-1"}.Matches(inv))
	assert.True(t, Filter{"consumo.total": "310"}.Matches(inv))
	assert.False(t, Filter{"tipo": "fatura"}.Matches(client))
	assert.False(t, Filter{"matricula": "123456"}.Matches(inv), "field absent on variant never matches")
	assert.True(t, Filter{"matricula": "123456"}.Matches(client))
	assert.False(t, Filter{"tipo": "fatura"}.Matches(nil))
}

func TestFilter_UnmarshalJSON(t *testing.T) {
	var f Filter
	require.NoError(t, json.Unmarshal([]byte(`{"tipo":"analise","num_faturas":12,"flag":true}`), &f))
	assert.Equal(t, Filter{"tipo": "analise", "num_faturas": "12", "flag": "true"}, f)
	assert.Equal(t, []string{"flag", "num_faturas", "tipo"}, f.Keys())

	assert.Error(t, json.Unmarshal([]byte(`{"tipo":["a"]}`), &f))
}
