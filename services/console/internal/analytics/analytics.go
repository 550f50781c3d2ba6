// Package analytics computes read-side statistics over instances and
// messages. Nothing is cached; every call recomputes.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
)

const (
	Day = 24 * time.Hour

	// ResponseWindow is how soon after a received message a sent message to
	// the same number must follow to count as an answer.
	ResponseWindow = 30 * time.Minute

	TopInstancesLimit = 5
)

// FormatUptime renders minutes as "45min", "2h 5min", "3h", "1d 4h" or "2d".
func FormatUptime(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dmin", minutes)
	}
	hours := minutes / 60
	rest := minutes % 60
	if hours < 24 {
		if rest > 0 {
			return fmt.Sprintf("%dh %dmin", hours, rest)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := hours / 24
	restHours := hours % 24
	if restHours > 0 {
		return fmt.Sprintf("%dd %dh", days, restHours)
	}
	return fmt.Sprintf("%dd", days)
}

// ResponseRate is the percentage of received messages that got an answer.
//
// This is a heuristic: a received message from N at T counts as answered
// when any sent message to N falls strictly between T and T+ResponseWindow.
// It does not pair conversations and one reply may answer several messages.
func ResponseRate(msgs []domain.Message) int {
	var received, sent []domain.Message
	for _, m := range msgs {
		switch m.Type {
		case domain.DirectionReceived:
			received = append(received, m)
		case domain.DirectionSent:
			sent = append(sent, m)
		}
	}
	if len(received) == 0 {
		return 0
	}
	answered := 0
	for _, r := range received {
		deadline := r.Timestamp.Add(ResponseWindow)
		for _, s := range sent {
			if s.Number == r.Number && s.Timestamp.After(r.Timestamp) && s.Timestamp.Before(deadline) {
				answered++
				break
			}
		}
	}
	return percent(answered, len(received))
}

// Summary is the per-instance analytics card.
type Summary struct {
	InstanceID    string     `json:"instanceId"`
	Sent24h       int        `json:"messagesSent24h"`
	Received24h   int        `json:"messagesReceived24h"`
	Total         int        `json:"totalMessages"`
	ThisWeek      int        `json:"messagesThisWeek"`
	UptimeMinutes int        `json:"uptimeMinutes"`
	Uptime        string     `json:"uptime"`
	LastActivity  *time.Time `json:"lastActivity"`
	ResponseRate  *int       `json:"responseRate,omitempty"`
}

func InstanceSummary(inst domain.Instance, msgs []domain.Message, now time.Time) Summary {
	dayAgo := now.Add(-Day)
	weekAgo := now.Add(-7 * Day)
	s := Summary{InstanceID: inst.ID, Total: len(msgs), LastActivity: inst.LastActivity}
	for _, m := range msgs {
		if m.Timestamp.After(dayAgo) {
			switch m.Type {
			case domain.DirectionSent:
				s.Sent24h++
			case domain.DirectionReceived:
				s.Received24h++
			}
		}
		if m.Timestamp.After(weekAgo) {
			s.ThisWeek++
		}
	}
	s.UptimeMinutes = minutesSince(inst.Created, now)
	s.Uptime = FormatUptime(s.UptimeMinutes)
	if len(msgs) > 0 {
		rate := ResponseRate(msgs)
		s.ResponseRate = &rate
	}
	return s
}

type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type InstanceTotals struct {
	Total        int            `json:"total"`
	Connected    int            `json:"connected"`
	Disconnected int            `json:"disconnected"`
	WaitingQR    int            `json:"waitingQR"`
	ByStatus     map[string]int `json:"byStatus"`
}

type MessageTotals struct {
	Last24h    int            `json:"last24h"`
	Last7Days  int            `json:"last7days"`
	Last30Days int            `json:"last30days"`
	Total      int            `json:"total"`
	ByType     map[string]int `json:"byType"`
	ByInstance map[string]int `json:"byInstance"`
}

type TopInstance struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	MessageCount int                   `json:"messageCount"`
	Status       domain.InstanceStatus `json:"status"`
	Created      time.Time             `json:"created"`
	LastActivity *time.Time            `json:"lastActivity"`
}

type Performance struct {
	AverageUptime              int `json:"averageUptime"`
	ConnectionRate             int `json:"connectionRate"`
	TotalMessageVolume         int `json:"totalMessageVolume"`
	AverageMessagesPerInstance int `json:"averageMessagesPerInstance"`
}

// Report is the detailed export of the whole console.
type Report struct {
	Timestamp    time.Time      `json:"timestamp"`
	Period       Period         `json:"period"`
	Instances    InstanceTotals `json:"instances"`
	Messages     MessageTotals  `json:"messages"`
	TopInstances []TopInstance  `json:"topInstances"`
	Performance  Performance    `json:"performance"`
}

func DetailedReport(instances []domain.Instance, msgs []domain.Message, now time.Time) Report {
	r := Report{
		Timestamp: now.UTC(),
		Period:    Period{Start: now.Add(-30 * Day).UTC(), End: now.UTC()},
		Instances: InstanceTotals{Total: len(instances), ByStatus: map[string]int{}},
		Messages: MessageTotals{
			Total:      len(msgs),
			ByType:     map[string]int{string(domain.DirectionSent): 0, string(domain.DirectionReceived): 0},
			ByInstance: map[string]int{},
		},
		TopInstances: TopInstances(instances, TopInstancesLimit),
		Performance:  PerformanceMetrics(instances, len(msgs), now),
	}
	for _, inst := range instances {
		r.Instances.ByStatus[string(inst.Status)]++
		switch inst.Status {
		case domain.StatusConnected:
			r.Instances.Connected++
		case domain.StatusDisconnected:
			r.Instances.Disconnected++
		case domain.StatusWaitingQR:
			r.Instances.WaitingQR++
		}
	}
	for _, m := range msgs {
		age := now.Sub(m.Timestamp)
		if age < Day {
			r.Messages.Last24h++
		}
		if age < 7*Day {
			r.Messages.Last7Days++
		}
		if age < 30*Day {
			r.Messages.Last30Days++
		}
		r.Messages.ByType[string(m.Type)]++
		r.Messages.ByInstance[m.InstanceID]++
	}
	return r
}

// TopInstances orders by message count, highest first, keeping input order
// for ties.
func TopInstances(instances []domain.Instance, limit int) []TopInstance {
	out := make([]TopInstance, 0, len(instances))
	for _, inst := range instances {
		out = append(out, TopInstance{
			ID:           inst.ID,
			Name:         inst.Name,
			MessageCount: inst.MessageCount,
			Status:       inst.Status,
			Created:      inst.Created,
			LastActivity: inst.LastActivity,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MessageCount > out[j].MessageCount })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func PerformanceMetrics(instances []domain.Instance, messageVolume int, now time.Time) Performance {
	p := Performance{TotalMessageVolume: messageVolume}
	var uptimes stats.Float64Data
	connected := 0
	for _, inst := range instances {
		if inst.Status != domain.StatusConnected {
			continue
		}
		connected++
		uptimes = append(uptimes, now.Sub(inst.Created).Minutes())
	}
	if len(uptimes) > 0 {
		if mean, err := stats.Mean(uptimes); err == nil {
			p.AverageUptime = int(math.Floor(mean))
		}
	}
	if len(instances) > 0 {
		p.ConnectionRate = percent(connected, len(instances))
		avg, err := stats.Round(float64(messageVolume)/float64(len(instances)), 0)
		if err == nil {
			p.AverageMessagesPerInstance = int(avg)
		}
	}
	return p
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	v, err := stats.Round(float64(part)/float64(total)*100, 0)
	if err != nil {
		return 0
	}
	return int(v)
}

func minutesSince(t, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / time.Minute)
}
