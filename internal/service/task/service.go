package task

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/broadcast"
	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/metrics"
	"github.com/jmehdipour/wadispatch/internal/model"
	"github.com/jmehdipour/wadispatch/internal/options"
	"github.com/jmehdipour/wadispatch/internal/payload"
	"github.com/jmehdipour/wadispatch/internal/repository"
	"github.com/jmehdipour/wadispatch/internal/util"
)

const (
	MaxBatchRecipients = 500
	DefaultRegion      = "RW"
)

var (
	ErrNotCancellable = errors.New("task cannot be cancelled")
	ErrNotRetryable   = errors.New("task is not eligible for retry")
)

// Store is the transactional half of repository.TaskStore.
type Store interface {
	Create(ctx context.Context, tasks []*model.MessageTask) error
	Promote(ctx context.Context, id string) (*model.MessageTask, error)
	Revert(ctx context.Context, id, reason string) (*model.MessageTask, error)
	Cancel(ctx context.Context, id string) (*model.MessageTask, error)
	ManualRetry(ctx context.Context, id string) (*model.MessageTask, error)
	SoftDelete(ctx context.Context, id string) (*model.MessageTask, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, env model.Envelope, delay time.Duration) error
}

// Analytics answers the average execution time; backed by ClickHouse when
// configured, MySQL otherwise.
type Analytics interface {
	AvgExecutionMs(ctx context.Context, status model.TaskStatus) (float64, error)
}

type Config struct {
	DefaultRegion string // phone parsing region for numbers without +
}

// Service is the task-creation and administration boundary used by the
// HTTP API and the CLI.
type Service struct {
	store  Store
	tasks  repository.TasksRepository
	logs   repository.ExecutionLogsRepository
	stats  Analytics
	queue  Enqueuer
	bcast  broadcast.Broadcaster
	region string
	now    func() time.Time
}

func New(
	store Store,
	tasks repository.TasksRepository,
	logs repository.ExecutionLogsRepository,
	stats Analytics,
	q Enqueuer,
	b broadcast.Broadcaster,
	cfg Config,
) *Service {
	if b == nil {
		b = broadcast.Nop{}
	}

	if stats == nil {
		stats = logs
	}

	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = DefaultRegion
	}

	return &Service{
		store:  store,
		tasks:  tasks,
		logs:   logs,
		stats:  stats,
		queue:  q,
		bcast:  b,
		region: cfg.DefaultRegion,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Message is the content shared by single and batch creation.
type Message struct {
	Body          string
	Channel       string
	Kind          string // options kind, empty means text
	Fields        options.Fields
	ScheduledTime *time.Time
	Priority      *int
	MaxRetries    *int
	CreatedBy     *int64
}

type CreateRequest struct {
	Recipient string
	Message
}

type BatchRequest struct {
	Recipients []string
	Message
}

type BatchResult struct {
	Created  int      `json:"created"`
	Enqueued int      `json:"enqueued"`
	TaskIDs  []string `json:"task_ids"`
}

// template is a validated Message ready to be stamped per recipient.
type template struct {
	body       string
	channel    model.Channel
	options    []byte
	scheduled  time.Time
	priority   int
	maxRetries int
	createdBy  *int64
}

func (s *Service) prepare(m Message) (template, error) {
	now := s.now()
	tpl := template{
		body:       strings.TrimSpace(m.Body),
		scheduled:  now,
		priority:   model.DefaultPriority,
		maxRetries: model.DefaultMaxRetries,
		createdBy:  m.CreatedBy,
	}

	ch, ok := model.ParseChannel(m.Channel)
	if !ok {
		return tpl, options.NewValidationError("channel", "unsupported channel %q", m.Channel)
	}
	tpl.channel = ch

	if tpl.body == "" {
		return tpl, options.NewValidationError("message_body", "must not be empty")
	}

	if utf8.RuneCountInString(tpl.body) > model.MaxBodyLength {
		return tpl, options.NewValidationError("message_body", "longer than %d characters", model.MaxBodyLength)
	}

	if m.Priority != nil {
		if *m.Priority < model.MinPriority || *m.Priority > model.MaxPriority {
			return tpl, options.NewValidationError("priority", "must be between %d and %d", model.MinPriority, model.MaxPriority)
		}
		tpl.priority = *m.Priority
	}

	if m.MaxRetries != nil {
		if *m.MaxRetries < 0 || *m.MaxRetries > model.MaxRetriesCeiling {
			return tpl, options.NewValidationError("max_retries", "must be between 0 and %d", model.MaxRetriesCeiling)
		}
		tpl.maxRetries = *m.MaxRetries
	}

	if m.ScheduledTime != nil && !m.ScheduledTime.IsZero() {
		tpl.scheduled = m.ScheduledTime.UTC().Truncate(time.Microsecond)
	}

	kind := strings.ToLower(strings.TrimSpace(m.Kind))
	if ch == model.ChannelSMS {
		// SMS is one-shot text
		if kind != "" && kind != string(options.KindText) {
			return tpl, options.NewValidationError("type", "sms channel only sends text")
		}
		return tpl, nil
	}

	// no explicit intent: the worker derives text from the body
	if kind != "" || m.Fields.PreviewURL {
		if kind == "" {
			kind = string(options.KindText)
		}

		o, err := options.Normalize(kind, tpl.body, m.Fields)
		if err != nil {
			return tpl, err
		}

		if err := payload.Validate(o); err != nil {
			return tpl, err
		}

		b, err := options.Marshal(o)
		if err != nil {
			return tpl, fmt.Errorf("marshal options: %w", err)
		}
		tpl.options = b
	}

	return tpl, nil
}

func (s *Service) newTask(tpl template, recipient string) *model.MessageTask {
	now := s.now()
	t := &model.MessageTask{
		ID:            util.NewAt(now),
		Recipient:     recipient,
		MessageBody:   tpl.body,
		Options:       tpl.options,
		Channel:       tpl.channel,
		Status:        model.StatusPending,
		ScheduledTime: tpl.scheduled,
		Priority:      tpl.priority,
		MaxRetries:    tpl.maxRetries,
		CreatedBy:     tpl.createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return t
}

// Create validates and stores one task. The store promotes a task due now to
// QUEUED in the insert transaction and it is enqueued right away; a future
// one waits PENDING for the promoter.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.MessageTask, error) {
	tpl, err := s.prepare(req.Message)
	if err != nil {
		return nil, err
	}

	phone, err := util.NormalizePhone(req.Recipient, s.region)
	if err != nil {
		return nil, options.NewValidationError("recipient", "%v", err)
	}

	t := s.newTask(tpl, phone)
	if err := s.store.Create(ctx, []*model.MessageTask{t}); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	event := "scheduled"
	if t.Status == model.StatusQueued {
		event = "created"
	}
	s.emit(t, event)

	if t.Status == model.StatusQueued {
		if t = s.enqueue(ctx, t); t.Status == model.StatusQueued {
			logger.Log.Info("task enqueued", zap.String("task_id", t.ID), zap.String("lane", t.Lane().String()))
		}
	}
	return t, nil
}

// Batch creates one task per distinct recipient (compared after E.164
// normalization) in a single transaction.
func (s *Service) Batch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if len(req.Recipients) == 0 || len(req.Recipients) > MaxBatchRecipients {
		return BatchResult{}, options.NewValidationError("recipients", "must hold 1 to %d numbers", MaxBatchRecipients)
	}

	tpl, err := s.prepare(req.Message)
	if err != nil {
		return BatchResult{}, err
	}

	seen := make(map[string]struct{}, len(req.Recipients))
	tasks := make([]*model.MessageTask, 0, len(req.Recipients))
	for i, raw := range req.Recipients {
		phone, err := util.NormalizePhone(raw, s.region)
		if err != nil {
			return BatchResult{}, options.NewValidationError(fmt.Sprintf("recipients[%d]", i), "%v", err)
		}

		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}
		tasks = append(tasks, s.newTask(tpl, phone))
	}

	if err := s.store.Create(ctx, tasks); err != nil {
		return BatchResult{}, fmt.Errorf("create batch: %w", err)
	}

	res := BatchResult{Created: len(tasks), TaskIDs: make([]string, 0, len(tasks))}
	for _, t := range tasks {
		res.TaskIDs = append(res.TaskIDs, t.ID)
		if t.Status != model.StatusQueued {
			s.emit(t, "scheduled")
			continue
		}

		if s.enqueue(ctx, t).Status == model.StatusQueued {
			res.Enqueued++
		}
	}

	logger.Log.Info("batch created", zap.Int("created", res.Created), zap.Int("enqueued", res.Enqueued))
	return res, nil
}

// enqueue hands a QUEUED task to its lane; on failure the task is reverted
// to PENDING so the promoter retries it.
func (s *Service) enqueue(ctx context.Context, t *model.MessageTask) *model.MessageTask {
	env := model.Envelope{TaskID: t.ID, Priority: t.Priority, Attempt: t.Retries}
	err := s.queue.Enqueue(ctx, env, 0)
	if err == nil {
		s.emit(t, "queued")
		return t
	}

	metrics.EnqueueFailures.WithLabelValues("create").Inc()
	reverted, rerr := s.store.Revert(ctx, t.ID, err.Error())
	if rerr != nil {
		logger.Log.Error("revert after enqueue failure failed",
			zap.String("task_id", t.ID), zap.NamedError("enqueue_err", err), zap.Error(rerr))
		return t
	}

	logger.Log.Warn("enqueue failed, left for scheduler", zap.String("task_id", t.ID), zap.Error(err))
	s.emit(reverted, "enqueue_failed")
	return reverted
}

func (s *Service) Get(ctx context.Context, id string) (*model.MessageTask, error) {
	if !util.ValidID(id) {
		return nil, repository.ErrNotFound
	}
	return s.tasks.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f repository.TaskFilter) ([]model.MessageTask, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, options.NewValidationError("status", "unknown status %q", f.Status)
	}

	if f.Recipient != "" {
		phone, err := util.NormalizePhone(f.Recipient, s.region)
		if err != nil {
			return nil, options.NewValidationError("recipient", "%v", err)
		}
		f.Recipient = phone
	}
	return s.tasks.List(ctx, f)
}

// Cancel stops a PENDING or QUEUED task. A queued envelope already in
// flight is dropped by the worker's claim check.
func (s *Service) Cancel(ctx context.Context, id string) (*model.MessageTask, error) {
	t, err := s.store.Cancel(ctx, id)
	if errors.Is(err, model.ErrIllegalTransition) {
		return t, fmt.Errorf("%w: status %s", ErrNotCancellable, t.Status)
	}
	if err != nil {
		return nil, err
	}

	s.emit(t, "cancelled")
	logger.Log.Info("task cancelled", zap.String("task_id", id))
	return t, nil
}

// Retry re-arms a FAILED task and queues it immediately.
func (s *Service) Retry(ctx context.Context, id string) (*model.MessageTask, error) {
	t, err := s.store.ManualRetry(ctx, id)
	if errors.Is(err, model.ErrIllegalTransition) {
		return t, fmt.Errorf("%w: status %s", ErrNotRetryable, t.Status)
	}
	if err != nil {
		return nil, err
	}
	s.emit(t, "retry_requested")

	t, err = s.store.Promote(ctx, id)
	if err != nil {
		// still PENDING and due; the promoter takes it from here
		logger.Log.Warn("promote after manual retry failed", zap.String("task_id", id), zap.Error(err))
		return s.tasks.GetByID(ctx, id)
	}
	return s.enqueue(ctx, t), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.store.SoftDelete(ctx, id)
	if err != nil {
		return err
	}

	s.emit(t, "deleted")
	logger.Log.Info("task soft-deleted", zap.String("task_id", id))
	return nil
}

func (s *Service) Logs(ctx context.Context, id string, limit int) ([]model.ExecutionLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.logs.ListByTask(ctx, id, limit)
}

type Statistics struct {
	Counts             map[model.TaskStatus]int64 `json:"counts"`
	Total              int64                      `json:"total"`
	SuccessRate        float64                    `json:"success_rate"`
	AvgExecutionTimeMs *float64                   `json:"avg_execution_time_ms"`
	TotalRetries       int64                      `json:"total_retries"`
}

// Statistics summarizes tasks, optionally only those createdBy made.
func (s *Service) Statistics(ctx context.Context, createdBy *int64) (Statistics, error) {
	counts, err := s.tasks.CountByStatus(ctx, createdBy)
	if err != nil {
		return Statistics{}, fmt.Errorf("count by status: %w", err)
	}

	st := Statistics{Counts: counts}
	for _, n := range counts {
		st.Total += n
	}

	finished := counts[model.StatusCompleted] + counts[model.StatusFailed]
	if finished > 0 {
		st.SuccessRate = round2(float64(counts[model.StatusCompleted]) / float64(finished) * 100)
	}

	if st.TotalRetries, err = s.tasks.SumRetries(ctx, createdBy); err != nil {
		return Statistics{}, fmt.Errorf("sum retries: %w", err)
	}

	avg, err := s.stats.AvgExecutionMs(ctx, model.StatusCompleted)
	if err != nil {
		// analytics are optional; counts are still useful
		logger.Log.Warn("avg execution time unavailable", zap.Error(err))
	} else if avg > 0 {
		v := round2(avg)
		st.AvgExecutionTimeMs = &v
	}

	return st, nil
}

// CleanupLogs purges execution logs older than olderThan.
func (s *Service) CleanupLogs(ctx context.Context, olderThan time.Duration, dryRun bool) (int64, error) {
	if olderThan <= 0 {
		return 0, options.NewValidationError("days", "must be positive")
	}

	cutoff := s.now().Add(-olderThan)
	n, err := s.logs.DeleteOlderThan(ctx, cutoff, dryRun)
	if err != nil {
		return n, fmt.Errorf("delete logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	logger.Log.Info("execution logs cleanup",
		zap.Time("cutoff", cutoff), zap.Int64("rows", n), zap.Bool("dry_run", dryRun))
	return n, nil
}

func (s *Service) emit(t *model.MessageTask, event string) {
	s.bcast.Publish(model.EventFor(t, event, s.now()))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
