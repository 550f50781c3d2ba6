// Package state owns the instance and message collections and mirrors every
// change to the key/value persistence layer.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/kvstore"
)

// Persistence keys.
const (
	KeyInstances      = "evolutionInstances"
	KeyMessageHistory = "evolutionMessageHistory"
	KeyAnalytics      = "evolutionAnalytics"
	KeyCurrentUser    = "currentUser"
	KeyAutoBackup     = "autoBackup"
)

const (
	DefaultMaxMessagesPerInstance = 100
	DefaultMaxMessageHistory      = 1000
)

type Config struct {
	KV                     *kvstore.Store
	MaxMessagesPerInstance int
	MaxMessageHistory      int
	Version                string
	Now                    func() time.Time
}

// Counts are the dashboard totals.
type Counts struct {
	Total        int `json:"total"`
	Connected    int `json:"connected"`
	Waiting      int `json:"waiting"`
	Disconnected int `json:"disconnected"`
}

// Backup is a full export of both collections.
type Backup struct {
	Instances      []domain.Instance `json:"instances"`
	MessageHistory []domain.Message  `json:"messageHistory"`
	Analytics      json.RawMessage   `json:"analytics,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Version        string            `json:"version"`
}

// Store holds all console state behind one mutex. Every mutation is written
// through to the persistence layer before it becomes visible; concurrent
// writers to the same record resolve as last writer wins.
type Store struct {
	mu              sync.Mutex
	kv              *kvstore.Store
	instances       []domain.Instance
	messages        []domain.Message
	analytics       json.RawMessage
	currentUser     *domain.Session
	currentInstance string
	maxPerInstance  int
	maxHistory      int
	version         string
	now             func() time.Time
}

func New(cfg Config) *Store {
	if cfg.KV == nil {
		cfg.KV = kvstore.New(kvstore.NewMemoryBackend())
	}
	if cfg.MaxMessagesPerInstance <= 0 {
		cfg.MaxMessagesPerInstance = DefaultMaxMessagesPerInstance
	}
	if cfg.MaxMessageHistory <= 0 {
		cfg.MaxMessageHistory = DefaultMaxMessageHistory
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		kv:             cfg.KV,
		maxPerInstance: cfg.MaxMessagesPerInstance,
		maxHistory:     cfg.MaxMessageHistory,
		version:        cfg.Version,
		now:            cfg.Now,
	}
}

// Load reads persisted collections. Missing keys leave them empty.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var instances []domain.Instance
	if _, err := s.kv.GetItem(ctx, KeyInstances, &instances); err != nil {
		return fmt.Errorf("load instances: %w", err)
	}
	var messages []domain.Message
	if _, err := s.kv.GetItem(ctx, KeyMessageHistory, &messages); err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	var analytics json.RawMessage
	if _, err := s.kv.GetItem(ctx, KeyAnalytics, &analytics); err != nil {
		return fmt.Errorf("load analytics: %w", err)
	}
	var user domain.Session
	found, err := s.kv.GetItem(ctx, KeyCurrentUser, &user)
	if err != nil {
		return fmt.Errorf("load current user: %w", err)
	}
	s.instances = instances
	s.messages = messages
	s.analytics = analytics
	s.currentUser = nil
	if found {
		s.currentUser = &user
	}
	return nil
}

// Instances returns a copy of every instance in insertion order.
func (s *Store) Instances() []domain.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.instances)
}

func (s *Store) Instance(id string) (domain.Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.instances[i], true
	}
	return domain.Instance{}, false
}

// FindByName matches the display or technical name, ignoring case.
func (s *Store) FindByName(name string) (domain.Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = strings.TrimSpace(name)
	for _, inst := range s.instances {
		if strings.EqualFold(inst.Name, name) || (inst.RemoteName != "" && strings.EqualFold(inst.RemoteName, name)) {
			return inst, true
		}
	}
	return domain.Instance{}, false
}

// NameTaken reports whether name collides with another instance, by display
// name or by technical name, case-insensitively. exceptID is skipped.
func (s *Store) NameTaken(name, exceptID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nameTaken(name, exceptID)
}

func (s *Store) nameTaken(name, exceptID string) bool {
	display := strings.ToLower(strings.TrimSpace(name))
	technical := strings.ToLower(domain.SanitizeName(name))
	for _, inst := range s.instances {
		if inst.ID == exceptID {
			continue
		}
		if strings.ToLower(strings.TrimSpace(inst.Name)) == display {
			return true
		}
		if technical != "" && strings.ToLower(technicalName(inst)) == technical {
			return true
		}
	}
	return false
}

// CheckUnique reports the first repeated id, display name or technical name
// in list. Names compare case-insensitively.
func CheckUnique(list []domain.Instance) error {
	ids := make(map[string]struct{}, len(list))
	displays := make(map[string]struct{}, len(list))
	technicals := make(map[string]struct{}, len(list))
	for _, inst := range list {
		if _, ok := ids[inst.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, inst.ID)
		}
		ids[inst.ID] = struct{}{}
		display := strings.ToLower(strings.TrimSpace(inst.Name))
		if _, ok := displays[display]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateName, inst.Name)
		}
		displays[display] = struct{}{}
		technical := strings.ToLower(technicalName(inst))
		if technical == "" {
			continue
		}
		if _, ok := technicals[technical]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateName, inst.Name)
		}
		technicals[technical] = struct{}{}
	}
	return nil
}

func technicalName(inst domain.Instance) string {
	if inst.RemoteName != "" {
		return inst.RemoteName
	}
	return domain.SanitizeName(inst.Name)
}

// AddInstance appends inst after the uniqueness checks.
func (s *Store) AddInstance(ctx context.Context, inst domain.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(inst.ID) >= 0 {
		return ErrDuplicateID
	}
	if s.nameTaken(inst.Name, "") {
		return ErrDuplicateName
	}
	next := append(slices.Clone(s.instances), inst)
	return s.commitInstances(ctx, next)
}

// UpdateInstance applies fn to the instance and persists the result.
func (s *Store) UpdateInstance(ctx context.Context, id string, fn func(*domain.Instance)) (domain.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.Instance{}, ErrInstanceNotFound
	}
	next := slices.Clone(s.instances)
	fn(&next[i])
	next[i].ID = id
	if err := s.commitInstances(ctx, next); err != nil {
		return domain.Instance{}, err
	}
	return next[i], nil
}

// RemoveInstance deletes the instance and every message that belongs to it.
func (s *Store) RemoveInstance(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrInstanceNotFound
	}
	instances := slices.Delete(slices.Clone(s.instances), i, i+1)
	messages := slices.DeleteFunc(slices.Clone(s.messages), func(m domain.Message) bool {
		return m.InstanceID == id
	})
	if err := s.commitInstances(ctx, instances); err != nil {
		return err
	}
	if err := s.commitMessages(ctx, messages); err != nil {
		return err
	}
	if s.currentInstance == id {
		s.currentInstance = ""
	}
	return nil
}

// AddMessage appends msg, then evicts oldest-first per instance and globally.
func (s *Store) AddMessage(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(slices.Clone(s.messages), msg)
	return s.commitMessages(ctx, s.evict(next, msg.InstanceID))
}

// ImportMessages appends messages whose instance exists and whose id is not
// already stored, and returns how many were accepted.
func (s *Store) ImportMessages(ctx context.Context, msgs []domain.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := slices.Clone(s.messages)
	seen := make(map[string]struct{}, len(next))
	for _, m := range next {
		seen[m.ID] = struct{}{}
	}
	touched := make(map[string]struct{})
	for _, m := range msgs {
		if s.indexOf(m.InstanceID) < 0 {
			continue
		}
		if _, dup := seen[m.ID]; dup && m.ID != "" {
			continue
		}
		seen[m.ID] = struct{}{}
		next = append(next, m)
		touched[m.InstanceID] = struct{}{}
	}
	added := len(next) - len(s.messages)
	if added == 0 {
		return 0, nil
	}
	for id := range touched {
		next = s.evictInstance(next, id)
	}
	if err := s.commitMessages(ctx, s.evictGlobal(next)); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *Store) evict(msgs []domain.Message, instanceID string) []domain.Message {
	return s.evictGlobal(s.evictInstance(msgs, instanceID))
}

func (s *Store) evictInstance(msgs []domain.Message, instanceID string) []domain.Message {
	count := 0
	for _, m := range msgs {
		if m.InstanceID == instanceID {
			count++
		}
	}
	drop := count - s.maxPerInstance
	if drop <= 0 {
		return msgs
	}
	return slices.DeleteFunc(msgs, func(m domain.Message) bool {
		if drop > 0 && m.InstanceID == instanceID {
			drop--
			return true
		}
		return false
	})
}

func (s *Store) evictGlobal(msgs []domain.Message) []domain.Message {
	if len(msgs) <= s.maxHistory {
		return msgs
	}
	return slices.Clone(msgs[len(msgs)-s.maxHistory:])
}

func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// InstanceMessages returns the instance's messages oldest first. A positive
// limit keeps only the most recent ones.
func (s *Store) InstanceMessages(instanceID string, limit int) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.InstanceID == instanceID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ClearMessages drops the instance's history and returns how many were removed.
func (s *Store) ClearMessages(ctx context.Context, instanceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := slices.DeleteFunc(slices.Clone(s.messages), func(m domain.Message) bool {
		return m.InstanceID == instanceID
	})
	removed := len(s.messages) - len(next)
	if err := s.commitMessages(ctx, next); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) SetAnalytics(ctx context.Context, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode analytics: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.SetItem(ctx, KeyAnalytics, json.RawMessage(raw), nil); err != nil {
		return err
	}
	s.analytics = raw
	return nil
}

func (s *Store) Analytics() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.analytics)
}

func (s *Store) CurrentUser() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUser == nil {
		return nil
	}
	u := *s.currentUser
	return &u
}

// SetCurrentUser persists the session; nil logs out and forgets the current
// instance.
func (s *Store) SetCurrentUser(ctx context.Context, user *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user == nil {
		if err := s.kv.RemoveItem(ctx, KeyCurrentUser); err != nil {
			return err
		}
		s.currentUser = nil
		s.currentInstance = ""
		return nil
	}
	if err := s.kv.SetItem(ctx, KeyCurrentUser, user, nil); err != nil {
		return err
	}
	u := *user
	s.currentUser = &u
	return nil
}

func (s *Store) CurrentInstance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentInstance
}

func (s *Store) SetCurrentInstance(id string) {
	s.mu.Lock()
	s.currentInstance = id
	s.mu.Unlock()
}

func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Counts{Total: len(s.instances)}
	for _, inst := range s.instances {
		switch inst.Status {
		case domain.StatusConnected:
			c.Connected++
		case domain.StatusWaitingQR:
			c.Waiting++
		case domain.StatusDisconnected:
			c.Disconnected++
		}
	}
	return c
}

// Filter returns instances with the given status (empty means any) whose
// name, description or id contains query, ignoring case.
func (s *Store) Filter(status domain.InstanceStatus, query string) []domain.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if status != "" && inst.Status != status {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(inst.Name), query) &&
			!strings.Contains(strings.ToLower(inst.Description), query) &&
			!strings.Contains(strings.ToLower(inst.ID), query) {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// CreateBackup snapshots both collections.
func (s *Store) CreateBackup() Backup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupLocked()
}

func (s *Store) backupLocked() Backup {
	msgs := s.messages
	if len(msgs) > s.maxHistory {
		msgs = msgs[len(msgs)-s.maxHistory:]
	}
	instances := slices.Clone(s.instances)
	if instances == nil {
		instances = []domain.Instance{}
	}
	history := slices.Clone(msgs)
	if history == nil {
		history = []domain.Message{}
	}
	return Backup{
		Instances:      instances,
		MessageHistory: history,
		Analytics:      slices.Clone(s.analytics),
		Timestamp:      s.now().UTC(),
		Version:        s.version,
	}
}

// RestoreBackup replaces the instance collection. Messages and analytics are
// replaced only when the backup carries them.
func (s *Store) RestoreBackup(ctx context.Context, b Backup) error {
	if err := CheckUnique(b.Instances); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitInstances(ctx, slices.Clone(b.Instances)); err != nil {
		return err
	}
	if b.MessageHistory != nil {
		if err := s.commitMessages(ctx, s.evictGlobal(slices.Clone(b.MessageHistory))); err != nil {
			return err
		}
	}
	if len(b.Analytics) > 0 {
		if err := s.kv.SetItem(ctx, KeyAnalytics, b.Analytics, nil); err != nil {
			return err
		}
		s.analytics = slices.Clone(b.Analytics)
	}
	return nil
}

// SaveAutoBackup writes a snapshot under KeyAutoBackup and returns it.
func (s *Store) SaveAutoBackup(ctx context.Context) (Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.backupLocked()
	if err := s.kv.SetItem(ctx, KeyAutoBackup, b, nil); err != nil {
		return Backup{}, err
	}
	return b, nil
}

func (s *Store) LatestAutoBackup(ctx context.Context) (Backup, bool, error) {
	var b Backup
	found, err := s.kv.GetItem(ctx, KeyAutoBackup, &b)
	return b, found, err
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.instances, func(inst domain.Instance) bool { return inst.ID == id })
}

func (s *Store) commitInstances(ctx context.Context, next []domain.Instance) error {
	if next == nil {
		next = []domain.Instance{}
	}
	if err := s.kv.SetItem(ctx, KeyInstances, next, nil); err != nil {
		return fmt.Errorf("persist instances: %w", err)
	}
	s.instances = next
	return nil
}

func (s *Store) commitMessages(ctx context.Context, next []domain.Message) error {
	if next == nil {
		next = []domain.Message{}
	}
	if err := s.kv.SetItem(ctx, KeyMessageHistory, next, nil); err != nil {
		return fmt.Errorf("persist messages: %w", err)
	}
	s.messages = next
	return nil
}
