package analytics

import (
	"strconv"

	"github.com/gocarina/gocsv"
)

type reportRow struct {
	Metric string `csv:"Métrica"`
	Value  string `csv:"Valor"`
}

// ReportCSV flattens the headline numbers of r into metric/value rows.
func ReportCSV(r Report) ([]byte, error) {
	rows := []reportRow{
		{"Data do Relatório", r.Timestamp.Format("02/01/2006")},
		{"Total de Instâncias", strconv.Itoa(r.Instances.Total)},
		{"Instâncias Conectadas", strconv.Itoa(r.Instances.Connected)},
		{"Instâncias Desconectadas", strconv.Itoa(r.Instances.Disconnected)},
		{"Mensagens (24h)", strconv.Itoa(r.Messages.Last24h)},
		{"Mensagens (7 dias)", strconv.Itoa(r.Messages.Last7Days)},
		{"Mensagens (30 dias)", strconv.Itoa(r.Messages.Last30Days)},
		{"Total de Mensagens", strconv.Itoa(r.Messages.Total)},
		{"Taxa de Conexão (%)", strconv.Itoa(r.Performance.ConnectionRate)},
		{"Média de Mensagens/Instância", strconv.Itoa(r.Performance.AverageMessagesPerInstance)},
	}
	return gocsv.MarshalBytes(&rows)
}
