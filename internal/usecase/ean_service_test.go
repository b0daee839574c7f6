package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSearcher is a mock implementation of domain.EANSearcher
type MockSearcher struct {
	mu      sync.Mutex
	results map[string][]domain.SearchItem
	errs    map[string]error
	queries []string
	delay   time.Duration
}

func NewMockSearcher() *MockSearcher {
	return &MockSearcher{
		results: make(map[string][]domain.SearchItem),
		errs:    make(map[string]error),
	}
}

func (m *MockSearcher) Search(ctx context.Context, query string) ([]domain.SearchItem, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	for title, err := range m.errs {
		if strings.Contains(query, `"`+title+`"`) {
			return nil, err
		}
	}
	for title, items := range m.results {
		if strings.Contains(query, `"`+title+`"`) {
			return items, nil
		}
	}
	return nil, nil
}

func (m *MockSearcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

func TestEANService_Lookup(t *testing.T) {
	searcher := NewMockSearcher()
	searcher.results["Drill"] = []domain.SearchItem{{Title: "Drill", Snippet: "ean: 0123456789012 extra"}}
	searcher.results["Saw"] = []domain.SearchItem{{Title: "Saw", Snippet: "no code"}}
	searcher.errs["Lamp"] = errors.New("boom")

	svc := NewEANService(searcher, EANServiceConfig{Configured: true, Concurrency: 2}, zerolog.Nop())

	replies, err := svc.Lookup(context.Background(), []string{"Drill", "Saw", "Lamp", ""})

	require.NoError(t, err)
	assert.Equal(t, []string{"0123456789012", domain.EANNotFound, domain.EANSearchError, domain.EANNotFound}, replies)
	assert.Equal(t, 3, searcher.callCount(), "empty title must not reach the searcher")
}

func TestEANService_QueryFormat(t *testing.T) {
	searcher := NewMockSearcher()
	svc := NewEANService(searcher, EANServiceConfig{Configured: true}, zerolog.Nop())

	_, err := svc.Lookup(context.Background(), []string{"Cordless Drill"})

	require.NoError(t, err)
	require.Len(t, searcher.queries, 1)
	assert.Equal(t, `"Cordless Drill" EAN code OR UPC code`, searcher.queries[0])
}

func TestEANService_NotConfigured(t *testing.T) {
	searcher := NewMockSearcher()
	svc := NewEANService(searcher, EANServiceConfig{Configured: false, Concurrency: 4}, zerolog.Nop())

	replies, err := svc.Lookup(context.Background(), []string{"Drill", "Saw", ""})

	require.NoError(t, err)
	assert.Equal(t, []string{domain.EANConfigError, domain.EANConfigError, domain.EANConfigError}, replies)
	assert.Zero(t, searcher.callCount())
}

func TestEANService_PreservesOrderUnderConcurrency(t *testing.T) {
	searcher := NewMockSearcher()
	searcher.delay = 5 * time.Millisecond
	titles := make([]string, 20)
	want := make([]string, 20)
	for i := range titles {
		titles[i] = fmt.Sprintf("Product %02d", i)
		switch {
		case i%5 == 0:
			searcher.errs[titles[i]] = errors.New("quota")
			want[i] = domain.EANSearchError
		case i%3 == 0:
			want[i] = domain.EANNotFound
		default:
			code := fmt.Sprintf("4000000000%03d", i)
			searcher.results[titles[i]] = []domain.SearchItem{{Snippet: "EAN " + code}}
			want[i] = code
		}
	}

	svc := NewEANService(searcher, EANServiceConfig{Configured: true, Concurrency: 4}, zerolog.Nop())
	replies, err := svc.Lookup(context.Background(), titles)

	require.NoError(t, err)
	assert.Equal(t, want, replies)
}

// countingSearcher tracks how many searches run at once
type countingSearcher struct {
	inFlight int32
	peak     int32
}

func (c *countingSearcher) Search(ctx context.Context, query string) ([]domain.SearchItem, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	for {
		p := atomic.LoadInt32(&c.peak)
		if n <= p || atomic.CompareAndSwapInt32(&c.peak, p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&c.inFlight, -1)
	return nil, nil
}

func TestEANService_BoundedConcurrency(t *testing.T) {
	searcher := &countingSearcher{}
	svc := NewEANService(searcher, EANServiceConfig{Configured: true, Concurrency: 3}, zerolog.Nop())

	titles := make([]string, 12)
	for i := range titles {
		titles[i] = fmt.Sprintf("t%d", i)
	}
	replies, err := svc.Lookup(context.Background(), titles)

	require.NoError(t, err)
	assert.Len(t, replies, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&searcher.peak), int32(3))
}

func TestEANService_CancelledContext(t *testing.T) {
	searcher := NewMockSearcher()
	svc := NewEANService(searcher, EANServiceConfig{Configured: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	replies, err := svc.Lookup(ctx, []string{"a", "b"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{domain.EANSearchError, domain.EANSearchError}, replies)
	assert.Zero(t, searcher.callCount())
}

func TestEANService_HandleRemoteCalls(t *testing.T) {
	searcher := NewMockSearcher()
	searcher.results["Drill"] = []domain.SearchItem{{Title: "Drill 4006381333931"}}
	svc := NewEANService(searcher, EANServiceConfig{Configured: true, Concurrency: 2}, zerolog.Nop())

	req := domain.LookupRequest{Calls: [][]any{{"Drill"}, {}, {nil}, {42.0}}}
	resp := svc.HandleRemoteCalls(context.Background(), req)

	assert.Equal(t, []string{"4006381333931", domain.EANNotFound, domain.EANNotFound, domain.EANNotFound}, resp.Replies)
}

func TestEANService_EmptyBatch(t *testing.T) {
	svc := NewEANService(NewMockSearcher(), EANServiceConfig{Configured: true}, zerolog.Nop())

	replies, err := svc.Lookup(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, replies)
}
