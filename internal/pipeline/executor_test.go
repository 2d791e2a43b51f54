package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/extract"
	"github.com/Lllllllleong/documentanalysisflow/internal/logging"
	"github.com/Lllllllleong/documentanalysisflow/internal/metrics"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/Lllllllleong/documentanalysisflow/internal/progress"
	"github.com/Lllllllleong/documentanalysisflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type extractorFunc func(ctx context.Context, data []byte, mimeType string) (string, error)

func (f extractorFunc) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	return f(ctx, data, mimeType)
}

type hookFunc func(ctx context.Context, ev models.ReadyEvent) error

func (f hookFunc) DocumentReady(ctx context.Context, ev models.ReadyEvent) error { return f(ctx, ev) }

// checkingPublisher verifies that the stored document already reflects each
// event when it is published.
type checkingPublisher struct {
	*progress.Broadcaster
	t     *testing.T
	store store.DocumentStore
}

func (p *checkingPublisher) Publish(ev models.ProgressEvent) {
	doc, err := p.store.GetDocument(context.Background(), ev.DocumentID)
	if assert.NoError(p.t, err) {
		assert.Equal(p.t, ev.Status, doc.Status)
		assert.Equal(p.t, ev.Progress, doc.Progress)
		assert.Equal(p.t, ev.Stage, doc.CurrentStage)
	}
	p.Broadcaster.Publish(ev)
}

func newDoc(t *testing.T, s store.DocumentStore) string {
	t.Helper()
	doc := &models.Document{Filename: "a.txt", Status: models.StatusUploaded, CurrentStage: models.StageUploaded}
	require.NoError(t, s.CreateDocument(context.Background(), doc))
	return doc.ID
}

func drain(t *testing.T, sub *progress.Subscription) []models.ProgressEvent {
	t.Helper()
	var events []models.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("subscription was not closed")
			return events
		}
	}
}

func TestExecutor_PlainTextReachesReady(t *testing.T) {
	s := store.NewMemory()
	b := progress.New(16)
	c := metrics.NewCollector()
	exec := NewExecutor(s, extract.New(), &checkingPublisher{Broadcaster: b, t: t, store: s},
		Config{Workers: 2}, logging.Discard(), WithMetrics(c))

	id := newDoc(t, s)
	b.Register(id)
	sub := b.Subscribe(id)

	done, err := exec.Submit(context.Background(), id, []byte("hello text"), extract.MimeText)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, <-done)

	events := drain(t, sub)
	require.Len(t, events, 3)
	assert.Equal(t, []int{20, 60, 100}, []int{events[0].Progress, events[1].Progress, events[2].Progress})
	assert.Equal(t, models.StatusExtracting, events[0].Status)
	assert.Equal(t, models.StageExtracting, events[0].Stage)
	assert.Equal(t, models.StatusPreparing, events[1].Status)
	assert.Equal(t, models.StatusReady, events[2].Status)
	assert.Equal(t, models.StageReady, events[2].Stage)

	doc, err := s.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, doc.Status)
	assert.Equal(t, 100, doc.Progress)
	require.NotNil(t, doc.ExtractedText)
	assert.Equal(t, "hello text", *doc.ExtractedText)
	require.NotNil(t, doc.Language)
	assert.Empty(t, doc.Chunks)

	assert.Equal(t, int64(1), c.Counter(metrics.CounterDocsReady))
	assert.False(t, exec.Active(id))
	assert.False(t, b.Live(id))
}

func TestExecutor_ExtractionFailureFreezesProgress(t *testing.T) {
	s := store.NewMemory()
	b := progress.New(16)
	exec := NewExecutor(s, extract.New(), b, Config{}, logging.Discard())

	id := newDoc(t, s)
	b.Register(id)
	sub := b.Subscribe(id)

	status, err := exec.Process(context.Background(), id, []byte("%PDF-1.4 garbage"), extract.MimePDF)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, status)

	events := drain(t, sub)
	require.Len(t, events, 2)
	assert.Equal(t, 20, events[0].Progress)
	assert.Equal(t, models.StatusError, events[1].Status)
	assert.Equal(t, 20, events[1].Progress)
	assert.True(t, strings.HasPrefix(events[1].Stage, "Error: "))

	doc, err := s.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, doc.Status)
	assert.Equal(t, 20, doc.Progress)
	assert.NotEmpty(t, doc.ErrorDetails)
	assert.Nil(t, doc.ExtractedText)
}

func TestExecutor_ErrorDetailsTruncated(t *testing.T) {
	s := store.NewMemory()
	b := progress.New(16)
	long := strings.Repeat("x", 1000)
	exec := NewExecutor(s, extractorFunc(func(context.Context, []byte, string) (string, error) {
		return "", errors.New(long)
	}), b, Config{}, logging.Discard())

	id := newDoc(t, s)
	status, err := exec.Process(context.Background(), id, []byte("data"), extract.MimeText)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, status)

	doc, err := s.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, []rune(doc.ErrorDetails), maxErrorDetails)
}

// cancelAwareStore rejects writes whose context is already done, like a
// networked store would.
type cancelAwareStore struct {
	*store.Memory
}

func (s cancelAwareStore) UpdateDocument(ctx context.Context, id string, update models.DocumentUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.UpdateDocument(ctx, id, update)
}

func TestExecutor_CallerCancelStillRecordsError(t *testing.T) {
	s := cancelAwareStore{Memory: store.NewMemory()}
	b := progress.New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := NewExecutor(s, extractorFunc(func(ctx context.Context, _ []byte, _ string) (string, error) {
		cancel()
		return "", ctx.Err()
	}), b, Config{}, logging.Discard())

	id := newDoc(t, s)
	status, err := exec.Process(ctx, id, []byte("data"), extract.MimeText)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, status)

	doc, err := s.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, doc.Status)
	assert.Equal(t, models.ProgressExtracting, doc.Progress)
	assert.NotEmpty(t, doc.ErrorDetails)
}

func TestExecutor_RejectsSecondActiveRun(t *testing.T) {
	s := store.NewMemory()
	b := progress.New(16)
	release := make(chan struct{})
	exec := NewExecutor(s, extractorFunc(func(ctx context.Context, _ []byte, _ string) (string, error) {
		<-release
		return "text", nil
	}), b, Config{Workers: 4}, logging.Discard())

	id := newDoc(t, s)
	done, err := exec.Submit(context.Background(), id, []byte("text"), extract.MimeText)
	require.NoError(t, err)

	_, err = exec.Submit(context.Background(), id, []byte("text"), extract.MimeText)
	assert.True(t, errors.Is(err, errors.ErrRunActive))
	_, err = exec.Process(context.Background(), id, []byte("text"), extract.MimeText)
	assert.True(t, errors.Is(err, errors.ErrRunActive))

	close(release)
	assert.Equal(t, models.StatusReady, <-done)
	require.NoError(t, exec.Wait(context.Background()))
}

func TestExecutor_LongTextIsChunked(t *testing.T) {
	s := store.NewMemory()
	b := progress.New(16)
	text := strings.Repeat("the analysis of the report ", 100)
	exec := NewExecutor(s, extractorFunc(func(context.Context, []byte, string) (string, error) {
		return text, nil
	}), b, Config{Chunker: Chunker{MaxChars: 500, Overlap: 50}}, logging.Discard())

	id := newDoc(t, s)
	status, err := exec.Process(context.Background(), id, nil, extract.MimeText)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, status)

	doc, err := s.GetDocument(context.Background(), id)
	require.NoError(t, err)
	require.Greater(t, len(doc.Chunks), 1)
	assert.Equal(t, text, Join(doc.Chunks))
	require.NotNil(t, doc.Language)
	assert.Equal(t, LanguageEnglish, *doc.Language)
}

func TestExecutor_ReadyHook(t *testing.T) {
	s := store.NewMemory()
	b := progress.New(16)
	var got []models.ReadyEvent
	var mu sync.Mutex
	hook := hookFunc(func(_ context.Context, ev models.ReadyEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return errors.New("workflow unavailable")
	})
	exec := NewExecutor(s, extract.New(), b, Config{}, logging.Discard(), WithReadyHook(hook))

	id := newDoc(t, s)
	status, err := exec.Process(context.Background(), id, []byte("hello text"), extract.MimeText)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, status, "hook failure must not fail the document")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].DocumentID)
	assert.Equal(t, 10, got[0].TextLength)
}

func TestExecutor_MissingDocumentFails(t *testing.T) {
	b := progress.New(16)
	exec := NewExecutor(store.NewMemory(), extract.New(), b, Config{}, logging.Discard())

	sub := func() *progress.Subscription {
		b.Register("ghost")
		return b.Subscribe("ghost")
	}()
	status, err := exec.Process(context.Background(), "ghost", []byte("hello"), extract.MimeText)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, status)

	events := drain(t, sub)
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusError, events[0].Status)
}

func TestExecutor_ConcurrentDocuments(t *testing.T) {
	s := store.NewMemory()
	b := progress.New(16)
	exec := NewExecutor(s, extract.New(), b, Config{Workers: 3}, logging.Discard())

	var chans []<-chan models.DocumentStatus
	for i := 0; i < 10; i++ {
		id := newDoc(t, s)
		done, err := exec.Submit(context.Background(), id, []byte(fmt.Sprintf("document %d", i)), extract.MimeText)
		require.NoError(t, err)
		chans = append(chans, done)
	}
	for _, done := range chans {
		assert.Equal(t, models.StatusReady, <-done)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, exec.Wait(ctx))
}
