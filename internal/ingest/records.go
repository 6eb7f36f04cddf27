package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hyperjump/contaluz/internal/models"
)

var monthNames = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

// BuildRecords returns the records of one bill: the client, one record per invoice and, when
// the bill has invoices, an analysis of the whole history.
func BuildRecords(b *Bill) []models.Record {
	out := make([]models.Record, 0, len(b.Invoices)+2)
	out = append(out, clientRecord(b))
	for i := range b.Invoices {
		out = append(out, invoiceRecord(b, &b.Invoices[i]))
	}
	if len(b.Invoices) > 0 {
		out = append(out, analysisRecord(b))
	}
	return out
}

func clientRecord(b *Bill) *models.ClientRecord {
	c := b.Client
	var sb strings.Builder
	fmt.Fprintf(&sb, "Cliente %s, matrícula %s", c.Name, c.Number)
	if c.InstallationNumber != "" {
		fmt.Fprintf(&sb, ", instalação %s", c.InstallationNumber)
	}
	sb.WriteString(".")
	if addr := formatAddress(c.Address); addr != "" {
		fmt.Fprintf(&sb, " Endereço: %s.", addr)
	}
	if b.Meta.Utility != "" {
		fmt.Fprintf(&sb, " Distribuidora %s", b.Meta.Utility)
		if b.Meta.TariffType != "" {
			fmt.Fprintf(&sb, ", tarifa %s", b.Meta.TariffType)
		}
		if b.Meta.TariffGroup != "" {
			fmt.Fprintf(&sb, ", grupo %s", b.Meta.TariffGroup)
		}
		sb.WriteString(".")
	}
	fmt.Fprintf(&sb, " Possui %d fatura(s) registrada(s).", len(b.Invoices))

	return &models.ClientRecord{
		ID:                 models.ClientRecordID(c.ID),
		Content:            sb.String(),
		ClientID:           c.ID,
		Name:               c.Name,
		Number:             c.Number,
		InstallationNumber: c.InstallationNumber,
		Address: models.Address{
			Street:     c.Address.Street,
			Number:     c.Address.Number,
			Complement: c.Address.Complement,
			District:   c.Address.District,
			City:       c.Address.City,
			State:      c.Address.State,
			PostalCode: c.Address.PostalCode,
		},
	}
}

func invoiceRecord(b *Bill, inv *Invoice) *models.InvoiceRecord {
	v := inv.Amounts
	var sb strings.Builder
	fmt.Fprintf(&sb, "Fatura de %s do cliente %s (matrícula %s)", monthLabel(inv.ReferenceMonth), b.Client.Name, b.Client.Number)
	if inv.Number != "" {
		fmt.Fprintf(&sb, ", número %s", inv.Number)
	}
	sb.WriteString(".")
	fmt.Fprintf(&sb, " Consumo de %s kWh, média de %s kWh por dia.",
		formatNumber(inv.Consumption.Total, 0), formatNumber(inv.Consumption.DailyKWh, 2))
	fmt.Fprintf(&sb, " Valor total R$ %s", formatNumber(v.Total, 2))
	if inv.DueDate != "" {
		fmt.Fprintf(&sb, " com vencimento em %s", inv.DueDate)
	}
	sb.WriteString(".")
	fmt.Fprintf(&sb, " Energia elétrica R$ %s, transmissão R$ %s, distribuição R$ %s, encargos R$ %s, tributos R$ %s.",
		formatNumber(v.Energy, 2), formatNumber(v.Transmission, 2), formatNumber(v.Distribution, 2),
		formatNumber(v.Charges, 2), formatNumber(v.Taxes.Total(), 2))
	if v.TariffFlag.Type != "" {
		fmt.Fprintf(&sb, " Bandeira tarifária %s (R$ %s).", v.TariffFlag.Type, formatNumber(v.TariffFlag.Value, 2))
	}

	return &models.InvoiceRecord{
		ID:             models.InvoiceRecordID(inv.ID),
		Content:        sb.String(),
		InvoiceID:      inv.ID,
		ClientID:       b.Client.ID,
		InvoiceNumber:  inv.Number,
		ReferenceMonth: inv.ReferenceMonth,
		IssueDate:      inv.IssueDate,
		DueDate:        inv.DueDate,
		Consumption: models.Consumption{
			TotalKWh:        inv.Consumption.Total,
			DailyAverageKWh: inv.Consumption.DailyKWh,
		},
		Amounts: models.Amounts{
			Total:            v.Total,
			Energy:           v.Energy,
			Transmission:     v.Transmission,
			Distribution:     v.Distribution,
			Charges:          v.Charges,
			Taxes:            v.Taxes.Total(),
			TariffFlag:       v.TariffFlag.Type,
			TariffFlagAmount: v.TariffFlag.Value,
		},
	}
}

// analysisRecord summarizes the bill's invoices. Reference months are YYYY-MM so string order
// is chronological.
func analysisRecord(b *Bill) *models.AnalysisRecord {
	first, last := b.Invoices[0].ReferenceMonth, b.Invoices[0].ReferenceMonth
	var kwh, amount float64
	peak := b.Invoices[0]
	for _, inv := range b.Invoices {
		if inv.ReferenceMonth < first {
			first = inv.ReferenceMonth
		}
		if inv.ReferenceMonth > last {
			last = inv.ReferenceMonth
		}
		kwh += inv.Consumption.Total
		amount += inv.Amounts.Total
		if inv.Consumption.Total > peak.Consumption.Total {
			peak = inv
		}
	}
	n := len(b.Invoices)
	avg := round2(kwh / float64(n))
	amount = round2(amount)

	text := fmt.Sprintf(
		"Análise do histórico de consumo do cliente %s (matrícula %s) entre %s e %s: %d fatura(s), "+
			"consumo médio de %s kWh por mês, valor total de R$ %s e valor médio de R$ %s. "+
			"Maior consumo em %s com %s kWh.",
		b.Client.Name, b.Client.Number, monthLabel(first), monthLabel(last), n,
		formatNumber(avg, 2), formatNumber(amount, 2), formatNumber(amount/float64(n), 2),
		monthLabel(peak.ReferenceMonth), formatNumber(peak.Consumption.Total, 0))

	return &models.AnalysisRecord{
		ID:                    models.AnalysisRecordID(b.Client.ID),
		Content:               text,
		ClientID:              b.Client.ID,
		Period:                models.Period{Start: first, End: last},
		InvoiceCount:          n,
		AverageConsumptionKWh: avg,
		TotalAmount:           amount,
	}
}

func formatAddress(a Address) string {
	var parts []string
	if a.Street != "" {
		street := a.Street
		if a.Number != "" {
			street += ", " + a.Number
		}
		parts = append(parts, street)
	}
	for _, p := range []string{a.Complement, a.District} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	switch {
	case a.City != "" && a.State != "":
		parts = append(parts, a.City+"/"+a.State)
	case a.City != "":
		parts = append(parts, a.City)
	}
	if a.PostalCode != "" {
		parts = append(parts, "CEP "+a.PostalCode)
	}
	return strings.Join(parts, ", ")
}

// monthLabel renders YYYY-MM as "janeiro de 2024"; anything else is returned unchanged.
func monthLabel(ym string) string {
	if len(ym) != 7 || ym[4] != '-' {
		return ym
	}
	m, err := strconv.Atoi(ym[5:])
	if err != nil || m < 1 || m > 12 {
		return ym
	}
	return monthNames[m-1] + " de " + ym[:4]
}

// formatNumber renders v in Brazilian notation: "." groups thousands and "," separates decimals.
func formatNumber(v float64, decimals int) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', decimals, 64)
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i+1:]
	}
	var sb strings.Builder
	if v < 0 && strings.Trim(s, "0.") != "" {
		sb.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(r)
	}
	if frac != "" {
		sb.WriteByte(',')
		sb.WriteString(frac)
	}
	return sb.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
