package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/redis"
)

// Status is the effective status reported to a caller.
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusSold      Status = "sold"
	StatusInCart    Status = "in_cart"
	StatusInvalid   Status = "invalid"
	StatusNotFound  Status = "not_found"
)

const (
	InCartMessage   = "This number is already in your cart."
	NotFoundMessage = "Number not found in table."
)

type Request struct {
	ID            string
	Caller        string
	InProgressIDs []string
}

type Result struct {
	Status         Status     `json:"status"`
	Message        string     `json:"message,omitempty"`
	ReserveExpires *time.Time `json:"reserve_expires,omitempty"`
}

// Reader is the read side of the slot store.
type Reader interface {
	Get(ctx context.Context, id string) (*models.Slot, error)
}

// Service answers availability questions without writing anything.
type Service interface {
	Query(ctx context.Context, req Request) (*Result, error)
}

type ServiceParams struct {
	Store    Reader
	Cache    redis.Cache
	CacheTTL time.Duration
	Clock    func() time.Time
	Range    slots.Range
	Logger   *logger.Logger
}

type service struct {
	store    Reader
	cache    redis.Cache
	cacheTTL time.Duration
	now      func() time.Time
	idRange  slots.Range
	logg     *logger.Logger
}

func NewService(p ServiceParams) (Service, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("slot reader required")
	}
	if p.CacheTTL < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "query cache ttl cannot be negative")
	}
	if p.Range == (slots.Range{}) {
		p.Range = slots.DefaultRange()
	}
	if err := p.Range.Validate(); err != nil {
		return nil, err
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &service{
		store:    p.Store,
		cache:    p.Cache,
		cacheTTL: p.CacheTTL,
		now:      p.Clock,
		idRange:  p.Range,
		logg:     p.Logger,
	}, nil
}

func (s *service) Query(ctx context.Context, req Request) (*Result, error) {
	id, err := slots.ParseID(req.ID, s.idRange)
	if err != nil {
		return &Result{Status: StatusInvalid, Message: s.idRange.OutOfRangeMessage()}, nil
	}
	caller := strings.TrimSpace(req.Caller)
	inProgress := s.normalizeInProgress(req.InProgressIDs)

	var key string
	if s.cachingEnabled() {
		key = s.cache.QueryCacheKey(fingerprint(id, caller, inProgress))
		if cached, ok := s.cached(ctx, key); ok {
			return cached, nil
		}
	}

	slot, err := s.store.Get(ctx, id)
	if errors.Is(err, slots.ErrNotFound) {
		return s.remember(ctx, key, &Result{Status: StatusNotFound, Message: NotFoundMessage}), nil
	}
	if err != nil {
		s.logg.Error(s.logg.WithSlotID(ctx, id), "availability.lookup_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "slot store unavailable")
	}

	return s.remember(ctx, key, s.resolve(slot, caller, inProgress)), nil
}

func (s *service) resolve(slot *models.Slot, caller string, inProgress map[string]struct{}) *Result {
	status := Status(slot.Status)
	if slot.Status == enums.SlotStatusReserved && slot.ReserveExpires != nil && slot.ReserveExpires.Before(s.now()) {
		status = StatusAvailable
	}

	if status == StatusReserved || status == StatusAvailable {
		_, listed := inProgress[slot.Num]
		ownHold := status == StatusReserved && caller != "" && slot.ReservedBy != nil && *slot.ReservedBy == caller
		if listed || ownHold {
			return &Result{Status: StatusInCart, Message: InCartMessage}
		}
	}

	if status == StatusReserved && slot.Attributes.Nickname != "" {
		return &Result{Status: StatusReserved, Message: "Number " + slot.Num + " is " + slot.Attributes.Nickname}
	}
	return &Result{Status: status, ReserveExpires: slot.ReserveExpires}
}

func (s *service) normalizeInProgress(raw []string) map[string]struct{} {
	out := make(map[string]struct{}, len(raw))
	for _, v := range raw {
		id, err := slots.NormalizeID(v, s.idRange)
		if err != nil {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

func (s *service) cachingEnabled() bool {
	return s.cache != nil && s.cacheTTL > 0
}

func (s *service) cached(ctx context.Context, key string) (*Result, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !redis.IsMiss(err) {
			s.logg.Warn(s.logg.WithField(ctx, "cache_key", key), "availability.cache_read_failed")
		}
		return nil, false
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, false
	}
	s.logg.Debug(s.logg.WithField(ctx, "cache_key", key), "availability.cache_hit")
	return &res, true
}

func (s *service) remember(ctx context.Context, key string, res *Result) *Result {
	if key == "" {
		return res
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return res
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "cache_key", key), "availability.cache_write_failed")
	}
	return res
}

// fingerprint keys the cache on the exact query parameters.
func fingerprint(id, caller string, inProgress map[string]struct{}) string {
	ids := make([]string, 0, len(inProgress))
	for v := range inProgress {
		ids = append(ids, v)
	}
	sort.Strings(ids)
	return id + ":" + caller + ":" + strings.Join(ids, ",")
}
