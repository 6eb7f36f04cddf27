// Package models holds the document records indexed for retrieval and the search request and
// response shapes.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RecordType is the tag stored in the "tipo" field of every serialized record.
type RecordType string

const (
	RecordTypeClient   RecordType = "cliente_info"
	RecordTypeInvoice  RecordType = "fatura"
	RecordTypeAnalysis RecordType = "analise"
)

// Valid reports whether t is one of the known record types.
func (t RecordType) Valid() bool {
	switch t {
	case RecordTypeClient, RecordTypeInvoice, RecordTypeAnalysis:
		return true
	}
	return false
}

// Record is a document that can be indexed and returned by search. Field exposes the
// filterable attributes of each variant by their serialized name; nested values use dotted
// names such as "consumo.total".
type Record interface {
	RecordID() string
	Type() RecordType
	Text() string
	Field(name string) (string, bool)
}

// Address is a client's postal address.
type Address struct {
	Street     string `json:"logradouro"`
	Number     string `json:"numero"`
	Complement string `json:"complemento,omitempty"`
	District   string `json:"bairro"`
	City       string `json:"cidade"`
	State      string `json:"estado"`
	PostalCode string `json:"cep"`
}

// ClientRecord describes one utility customer.
type ClientRecord struct {
	ID                 string  `json:"id"`
	Content            string  `json:"texto"`
	ClientID           string  `json:"cliente_id"`
	Name               string  `json:"nome"`
	Number             string  `json:"matricula"`
	InstallationNumber string  `json:"numero_instalacao,omitempty"`
	Address            Address `json:"endereco"`
}

func (r *ClientRecord) RecordID() string { return r.ID }
func (r *ClientRecord) Type() RecordType { return RecordTypeClient }
func (r *ClientRecord) Text() string     { return r.Content }

func (r *ClientRecord) Field(name string) (string, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "tipo":
		return string(RecordTypeClient), true
	case "texto":
		return r.Content, true
	case "cliente_id":
		return r.ClientID, true
	case "nome":
		return r.Name, true
	case "matricula":
		return r.Number, true
	case "numero_instalacao":
		return r.InstallationNumber, true
	case "endereco.cidade":
		return r.Address.City, true
	case "endereco.estado":
		return r.Address.State, true
	case "endereco.bairro":
		return r.Address.District, true
	case "endereco.cep":
		return r.Address.PostalCode, true
	}
	return "", false
}

func (r *ClientRecord) MarshalJSON() ([]byte, error) {
	type alias ClientRecord
	return json.Marshal(struct {
		Type RecordType `json:"tipo"`
		*alias
	}{RecordTypeClient, (*alias)(r)})
}

// Consumption is the metered energy of one invoice.
type Consumption struct {
	TotalKWh        float64 `json:"total"`
	DailyAverageKWh float64 `json:"media_kwh_dia"`
}

// Amounts is the billed breakdown of one invoice.
type Amounts struct {
	Total            float64 `json:"total"`
	Energy           float64 `json:"energia_eletrica"`
	Transmission     float64 `json:"transmissao"`
	Distribution     float64 `json:"distribuicao"`
	Charges          float64 `json:"encargos"`
	Taxes            float64 `json:"tributos"`
	TariffFlag       string  `json:"bandeira_tarifaria,omitempty"`
	TariffFlagAmount float64 `json:"valor_bandeira,omitempty"`
}

// InvoiceRecord describes one monthly bill.
type InvoiceRecord struct {
	ID             string      `json:"id"`
	Content        string      `json:"texto"`
	InvoiceID      string      `json:"fatura_id"`
	ClientID       string      `json:"cliente_id"`
	InvoiceNumber  string      `json:"numero_fatura,omitempty"`
	ReferenceMonth string      `json:"mes_referencia"`
	IssueDate      string      `json:"data_emissao,omitempty"`
	DueDate        string      `json:"data_vencimento,omitempty"`
	Consumption    Consumption `json:"consumo"`
	Amounts        Amounts     `json:"valores"`
}

func (r *InvoiceRecord) RecordID() string { return r.ID }
func (r *InvoiceRecord) Type() RecordType { return RecordTypeInvoice }
func (r *InvoiceRecord) Text() string     { return r.Content }

func (r *InvoiceRecord) Field(name string) (string, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "tipo":
		return string(RecordTypeInvoice), true
	case "texto":
		return r.Content, true
	case "fatura_id":
		return r.InvoiceID, true
	case "cliente_id":
		return r.ClientID, true
	case "numero_fatura":
		return r.InvoiceNumber, true
	case "mes_referencia":
		return r.ReferenceMonth, true
	case "data_emissao":
		return r.IssueDate, true
	case "data_vencimento":
		return r.DueDate, true
	case "consumo.total":
		return formatFloat(r.Consumption.TotalKWh), true
	case "consumo.media_kwh_dia":
		return formatFloat(r.Consumption.DailyAverageKWh), true
	case "valores.total":
		return formatFloat(r.Amounts.Total), true
	case "valores.bandeira_tarifaria":
		return r.Amounts.TariffFlag, true
	}
	return "", false
}

func (r *InvoiceRecord) MarshalJSON() ([]byte, error) {
	type alias InvoiceRecord
	return json.Marshal(struct {
		Type RecordType `json:"tipo"`
		*alias
	}{RecordTypeInvoice, (*alias)(r)})
}

// Period is an inclusive range of reference months.
type Period struct {
	Start string `json:"inicio"`
	End   string `json:"fim"`
}

// AnalysisRecord summarizes a client's invoice history.
type AnalysisRecord struct {
	ID                    string  `json:"id"`
	Content               string  `json:"texto"`
	ClientID              string  `json:"cliente_id"`
	Period                Period  `json:"periodo"`
	InvoiceCount          int     `json:"num_faturas"`
	AverageConsumptionKWh float64 `json:"consumo_medio"`
	TotalAmount           float64 `json:"valor_total"`
}

func (r *AnalysisRecord) RecordID() string { return r.ID }
func (r *AnalysisRecord) Type() RecordType { return RecordTypeAnalysis }
func (r *AnalysisRecord) Text() string     { return r.Content }

func (r *AnalysisRecord) Field(name string) (string, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "tipo":
		return string(RecordTypeAnalysis), true
	case "texto":
		return r.Content, true
	case "cliente_id":
		return r.ClientID, true
	case "periodo.inicio":
		return r.Period.Start, true
	case "periodo.fim":
		return r.Period.End, true
	case "num_faturas":
		return strconv.Itoa(r.InvoiceCount), true
	case "consumo_medio":
		return formatFloat(r.AverageConsumptionKWh), true
	case "valor_total":
		return formatFloat(r.TotalAmount), true
	}
	return "", false
}

func (r *AnalysisRecord) MarshalJSON() ([]byte, error) {
	type alias AnalysisRecord
	return json.Marshal(struct {
		Type RecordType `json:"tipo"`
		*alias
	}{RecordTypeAnalysis, (*alias)(r)})
}

// DecodeRecord parses a serialized record, dispatching on its "tipo" tag.
func DecodeRecord(data []byte) (Record, error) {
	var head struct {
		Type RecordType `json:"tipo"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode record tag: %w", err)
	}
	var rec Record
	switch head.Type {
	case RecordTypeClient:
		rec = &ClientRecord{}
	case RecordTypeInvoice:
		rec = &InvoiceRecord{}
	case RecordTypeAnalysis:
		rec = &AnalysisRecord{}
	default:
		return nil, fmt.Errorf("unknown record type %q", head.Type)
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", head.Type, err)
	}
	return rec, nil
}

// RecordID builders keep ids stable across re-ingestion of the same source data.
func ClientRecordID(clientID string) string   { return "cliente_" + clientID }
func InvoiceRecordID(invoiceID string) string { return "fatura_" + invoiceID }
func AnalysisRecordID(clientID string) string { return "analise_" + clientID }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
