package api

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/capitalize-ai/chatsync/internal/model"
)

const participantListKey = "all"

// participantCache keeps participant lists for a short TTL. Entries are
// costed by length so one large directory cannot evict every search.
type participantCache struct {
	c   *ristretto.Cache[string, []model.Participant]
	ttl time.Duration
}

func newParticipantCache(ttl time.Duration) (*participantCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []model.Participant]{
		NumCounters: 10_000,
		MaxCost:     100_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &participantCache{c: c, ttl: ttl}, nil
}

func (p *participantCache) getOrLoad(key string, load func() ([]model.Participant, error)) ([]model.Participant, error) {
	if p.ttl > 0 {
		if users, ok := p.c.Get(key); ok {
			return append([]model.Participant(nil), users...), nil
		}
	}

	users, err := load()
	if err != nil {
		return nil, err
	}
	if p.ttl > 0 {
		p.c.SetWithTTL(key, users, int64(len(users)+1), p.ttl)
		p.c.Wait()
	}
	return append([]model.Participant(nil), users...), nil
}

func (p *participantCache) Close() {
	p.c.Close()
}
