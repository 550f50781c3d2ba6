package messages

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatTXT  = "txt"

	dateLayout = "02/01/2006 15:04:05"
)

// Export is a rendered history file.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

type exportInstance struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type exportDocument struct {
	Instance      exportInstance   `json:"instance"`
	Messages      []domain.Message `json:"messages"`
	ExportDate    time.Time        `json:"exportDate"`
	TotalMessages int              `json:"totalMessages"`
}

type csvRow struct {
	Date    string `csv:"Data/Hora"`
	Type    string `csv:"Tipo"`
	Number  string `csv:"Número"`
	Message string `csv:"Mensagem"`
	Status  string `csv:"Status"`
}

// Export renders the full history of an instance, oldest first.
func (s *Service) Export(instanceID, format string) (Export, error) {
	inst, ok := s.app.State.Instance(instanceID)
	if !ok {
		return Export{}, app.ErrInstanceNotFound
	}
	now := s.app.Now()
	msgs := s.app.State.InstanceMessages(instanceID, 0)
	if msgs == nil {
		msgs = []domain.Message{}
	}
	base := fmt.Sprintf("messages-%s-%s", inst.Name, now.UTC().Format("2006-01-02"))

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		body, err := json.MarshalIndent(exportDocument{
			Instance:      exportInstance{ID: inst.ID, Name: inst.Name, Description: inst.Description},
			Messages:      msgs,
			ExportDate:    now.UTC(),
			TotalMessages: len(msgs),
		}, "", "  ")
		if err != nil {
			return Export{}, err
		}
		return Export{Filename: base + ".json", ContentType: "application/json", Body: body}, nil
	case FormatCSV:
		rows := make([]csvRow, 0, len(msgs))
		for _, m := range msgs {
			status := m.Status
			if status == "" {
				status = "N/A"
			}
			rows = append(rows, csvRow{
				Date:    s.formatDate(m.Timestamp),
				Type:    directionLabel(m.Type, "Enviada", "Recebida"),
				Number:  m.Number,
				Message: m.Message,
				Status:  status,
			})
		}
		body, err := gocsv.MarshalBytes(&rows)
		if err != nil {
			return Export{}, err
		}
		return Export{Filename: base + ".csv", ContentType: "text/csv; charset=utf-8", Body: body}, nil
	case FormatTXT:
		return Export{
			Filename:    base + ".txt",
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(s.transcript(inst.Name, msgs, now)),
		}, nil
	default:
		return Export{}, app.ErrUnsupportedFormat
	}
}

func (s *Service) transcript(name string, msgs []domain.Message, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Histórico de Mensagens - %s\n", name)
	fmt.Fprintf(&b, "Exportado em: %s\n", s.formatDate(now))
	fmt.Fprintf(&b, "Total de mensagens: %d\n", len(msgs))
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s - %s\n%s\n%s\n",
			s.formatDate(m.Timestamp),
			directionLabel(m.Type, "ENVIADA", "RECEBIDA"),
			m.Number,
			m.Message,
			strings.Repeat("─", 30))
	}
	return b.String()
}

func (s *Service) formatDate(t time.Time) string {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dateLayout)
}

func directionLabel(d domain.Direction, sent, received string) string {
	if d == domain.DirectionSent {
		return sent
	}
	return received
}
