package classify

import (
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/oremus/go-common/logger"
)

// DefaultLogSize is the capacity of the diagnostic error log.
const DefaultLogSize = 100

type config struct {
	rules   []Rule
	logSize int
	now     func() time.Time
	logger  logger.Logger
}

// Option configures a Classifier.
type Option func(*config)

// WithRules replaces the classification table.
func WithRules(rules []Rule) Option {
	return func(c *config) { c.rules = rules }
}

// WithLogSize sets how many records the error log keeps. Defaults to DefaultLogSize.
func WithLogSize(n int) Option {
	return func(c *config) { c.logSize = n }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithLogger sets the logger classifications are reported to.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.logger = log }
}

// Classifier maps failures to Error records and keeps a bounded log of them.
type Classifier struct {
	cfg   config
	mu    sync.Mutex
	log   []*Error
	total int
}

// NewClassifier returns a Classifier using DefaultRules unless overridden.
func NewClassifier(opts ...Option) *Classifier {
	cfg := config{
		rules:   DefaultRules(),
		logSize: DefaultLogSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logSize <= 0 {
		cfg.logSize = DefaultLogSize
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger(logger.LevelWarn)
	}
	return &Classifier{cfg: cfg}
}

// Classify builds the classification record for err under the given context
// label and appends it to the error log. A nil err yields nil. If err already
// carries a classification, its kind and code are kept and only the
// provenance fields are refreshed.
func (c *Classifier) Classify(err error, context string) *Error {
	if err == nil {
		return nil
	}
	record := &Error{
		ID:        uuid.NewString(),
		Context:   context,
		Timestamp: c.cfg.now(),
		Cause:     err,
	}

	var previous *Error
	if errors.As(err, &previous) {
		record.Kind = previous.Kind
		record.Code = previous.Code
		record.Severity = previous.Severity
		record.Retryable = previous.Retryable
		record.ActionRequired = previous.ActionRequired
		record.UserMessage = previous.UserMessage
		record.OriginalMessage = previous.OriginalMessage
		record.Cause = previous.Cause
	} else {
		record.OriginalMessage = err.Error()
		kind, tmpl := c.match(err)
		record.Kind = kind
		record.Code = tmpl.Code
		record.Severity = tmpl.Severity
		record.Retryable = tmpl.Retryable
		record.ActionRequired = tmpl.ActionRequired
		record.UserMessage = tmpl.UserMessage
	}

	c.append(record)
	c.report(record)
	return record
}

// Handle classifies err and returns the message to show to the user.
func (c *Classifier) Handle(err error, context string) string {
	record := c.Classify(err, context)
	if record == nil {
		return ""
	}
	return record.UserMessage
}

func (c *Classifier) match(err error) (Kind, Template) {
	msg := strings.ToLower(err.Error())
	for _, rule := range c.cfg.rules {
		if rule.Match(msg, err) {
			return rule.Kind, rule.resolve(msg, err)
		}
	}
	return KindUnknown, unknownTemplate
}

func (c *Classifier) append(record *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.log = append(c.log, record)
	if over := len(c.log) - c.cfg.logSize; over > 0 {
		trimmed := make([]*Error, c.cfg.logSize)
		copy(trimmed, c.log[over:])
		c.log = trimmed
	}
}

func (c *Classifier) report(record *Error) {
	log := c.cfg.logger.With(record.Fields())
	switch record.Severity {
	case SeverityHigh:
		log.Error("%s", record.Error())
	case SeverityMedium:
		log.Warn("%s", record.Error())
	default:
		log.Info("%s", record.Error())
	}
}

// Log returns the retained records, oldest first.
func (c *Classifier) Log() []*Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Error, len(c.log))
	copy(out, c.log)
	return out
}

// Total returns how many failures were classified since creation or the last ClearLog.
func (c *Classifier) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// ClearLog empties the error log.
func (c *Classifier) ClearLog() {
	c.mu.Lock()
	c.log = nil
	c.total = 0
	c.mu.Unlock()
}
