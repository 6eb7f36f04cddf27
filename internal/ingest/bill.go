// Package ingest turns electricity-bill exports into document records, stores them and feeds
// the new or changed ones to the vector index.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	cerr "github.com/hyperjump/contaluz/pkg/errors"
)

// Bill is one exported account: the customer, their invoices and tariff metadata.
type Bill struct {
	Client   Client    `json:"cliente"`
	Invoices []Invoice `json:"faturas"`
	Meta     Meta      `json:"meta"`
}

type Client struct {
	ID                 string  `json:"id"`
	Name               string  `json:"nome"`
	Address            Address `json:"endereco"`
	Number             string  `json:"numeroCliente"`
	InstallationNumber string  `json:"numeroInstalacao"`
}

type Address struct {
	Street     string `json:"logradouro"`
	Number     string `json:"numero"`
	Complement string `json:"complemento"`
	District   string `json:"bairro"`
	City       string `json:"cidade"`
	State      string `json:"estado"`
	PostalCode string `json:"cep"`
}

type Reading struct {
	Date  string  `json:"data"`
	Value float64 `json:"valor"`
}

type MonthlyUsage struct {
	Month string  `json:"mes"`
	Value float64 `json:"valor"`
}

type Consumption struct {
	Total    float64        `json:"total"`
	DailyKWh float64        `json:"mediaKWhDia"`
	History  []MonthlyUsage `json:"historico"`
}

type TariffFlag struct {
	Type  string  `json:"tipo"`
	Value float64 `json:"valor"`
}

type ExtraCharge struct {
	Description string  `json:"descricao"`
	Value       float64 `json:"valor"`
}

type Taxes struct {
	ICMS   float64 `json:"icms"`
	PIS    float64 `json:"pis"`
	COFINS float64 `json:"cofins"`
}

// Total returns the sum of the three taxes.
func (t Taxes) Total() float64 { return t.ICMS + t.PIS + t.COFINS }

type Amounts struct {
	Total        float64       `json:"total"`
	Energy       float64       `json:"energiaEletrica"`
	Transmission float64       `json:"transmissao"`
	Distribution float64       `json:"distribuicao"`
	Charges      float64       `json:"encargos"`
	Taxes        Taxes         `json:"tributos"`
	TariffFlag   TariffFlag    `json:"bandeiraTarifaria"`
	Other        []ExtraCharge `json:"outrosValores"`
}

type Invoice struct {
	ID              string      `json:"id"`
	ReferenceMonth  string      `json:"mesReferencia"`
	IssueDate       string      `json:"dataEmissao"`
	DueDate         string      `json:"dataVencimento"`
	Number          string      `json:"numeroFatura"`
	PreviousReading Reading     `json:"leituraAnterior"`
	CurrentReading  Reading     `json:"leituraAtual"`
	Consumption     Consumption `json:"consumo"`
	Amounts         Amounts     `json:"valores"`
}

type Meta struct {
	Utility       string `json:"distribuidora"`
	TariffType    string `json:"tipoTarifa"`
	TariffGroup   string `json:"grupoTarifario"`
	Modality      string `json:"modalidade"`
	Voltage       string `json:"tensaoNominal"`
	LastUpdatedAt string `json:"ultimaAtualizacao"`
}

// ParseBill decodes and validates a bill export. Reference months are normalized to YYYY-MM.
func ParseBill(data []byte) (*Bill, error) {
	var b Bill
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIngestParseInvalidFormat, "decode bill")
	}
	if strings.TrimSpace(b.Client.ID) == "" {
		return nil, cerr.New(cerr.CodeIngestParseInvalidFormat, "bill has no client id")
	}
	if strings.TrimSpace(b.Client.Number) == "" {
		return nil, cerr.New(cerr.CodeIngestParseInvalidFormat, "bill has no client number",
			cerr.Field("client_id", b.Client.ID))
	}
	seen := make(map[string]struct{}, len(b.Invoices))
	for i := range b.Invoices {
		inv := &b.Invoices[i]
		if inv.ID == "" {
			return nil, cerr.Errorf(cerr.CodeIngestParseInvalidFormat, "invoice %d has no id", i)
		}
		if _, dup := seen[inv.ID]; dup {
			return nil, cerr.Errorf(cerr.CodeIngestParseInvalidFormat, "duplicate invoice id %q", inv.ID)
		}
		seen[inv.ID] = struct{}{}
		month, err := NormalizeMonth(inv.ReferenceMonth)
		if err != nil {
			return nil, cerr.Wrapf(err, cerr.CodeIngestParseInvalidFormat, "invoice %q", inv.ID)
		}
		inv.ReferenceMonth = month
	}
	return &b, nil
}

// NormalizeMonth accepts MM/YYYY or YYYY-MM and returns YYYY-MM.
func NormalizeMonth(s string) (string, error) {
	s = strings.TrimSpace(s)
	var month, year string
	switch {
	case strings.Contains(s, "/"):
		parts := strings.Split(s, "/")
		if len(parts) != 2 {
			return "", fmt.Errorf("invalid reference month %q", s)
		}
		month, year = parts[0], parts[1]
	case strings.Contains(s, "-"):
		parts := strings.Split(s, "-")
		if len(parts) != 2 {
			return "", fmt.Errorf("invalid reference month %q", s)
		}
		year, month = parts[0], parts[1]
	default:
		return "", fmt.Errorf("invalid reference month %q", s)
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return "", fmt.Errorf("invalid month in %q", s)
	}
	y, err := strconv.Atoi(year)
	if err != nil || y < 1900 || y > 9999 {
		return "", fmt.Errorf("invalid year in %q", s)
	}
	return fmt.Sprintf("%04d-%02d", y, m), nil
}
