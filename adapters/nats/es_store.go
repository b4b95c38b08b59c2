package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/evbuf-go/core/es"
)

const (
	defaultStreamName    = "EVBUF_ES"
	defaultSubjectPrefix = "evbuf.es"
	fetchBatchSize       = 100
	fetchMaxWait         = time.Second
)

var ErrPartialAppend = errors.New("partial append")

// PartialAppendError is returned when a batch failed after some of its
// events were published. The stream is at version Stored; callers should
// reload before retrying.
type PartialAppendError struct {
	AggregateType string
	AggregateID   string
	Stored        es.Version
	Err           error
}

func (e *PartialAppendError) Error() string {
	return fmt.Sprintf("%s: %s/%s stored up to version %d: %v", ErrPartialAppend, e.AggregateType, e.AggregateID, e.Stored, e.Err)
}

func (e *PartialAppendError) Is(target error) bool { return target == ErrPartialAppend }
func (e *PartialAppendError) Unwrap() error        { return e.Err }

type EventStoreConfig struct {
	Connect       Connector    // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	StreamName    string       // StreamName of the JetStream stream, upper-cased
	SubjectPrefix string       // SubjectPrefix of every stream subject
	// Storage defaults to file storage.
	Storage jetstream.StorageType
	// RenameType maps aggregate types to subject tokens (optional).
	RenameType func(string) string
}

// EventStore keeps every aggregate stream on its own subject
// <prefix>.<type>.<id> of a single JetStream stream. The stream's
// per-subject last sequence enforces the expected version on append.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
	renameType    func(string) string
}

func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	stream, streamInfo, err := ensureStream(ctx, js, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  cfg.Storage,
		FirstSeq: 1,
	})
	if err != nil {
		closeNatsCon()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	log.Debug("stream ready", slog.Uint64("messages", streamInfo.State.Msgs))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
		renameType:    cfg.RenameType,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Load(
	ctx context.Context,
	aggType string,
	aggID string,
	opts ...es.StoreLoadOption,
) (loaded []es.Envelope, err error) {
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	var (
		loadOpts = es.NewStoreLoadOptions(opts...)
		startAt  = time.Now()
		subj     = e.subjectForAggregate(aggType, aggID)
	)

	defer func() {
		if err == nil {
			e.log.Debug(
				"loaded events",
				slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
				loadOpts.StartVersion.SlogAttrWithKey("start_version"),
				slog.Int("num_events", len(loaded)),
				slog.Duration("duration", time.Since(startAt)),
			)
		}
	}()

	last, err := e.lastEnvelope(ctx, subj)
	if err != nil {
		return nil, err
	}
	if last == nil || last.Version < loadOpts.StartVersion {
		return nil, nil
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subj},
	})
	if err != nil {
		return nil, err
	}

	all, err := e.consumeEvents(ctx, cc, last.Seq)
	if err != nil {
		return nil, err
	}
	for _, env := range all {
		if env.Version >= loadOpts.StartVersion {
			loaded = append(loaded, env)
		}
	}
	return loaded, nil
}

// consumeEvents fetches until the message with sequence endSeq was read.
func (e *EventStore) consumeEvents(ctx context.Context, cc jetstream.Consumer, endSeq uint64) ([]es.Envelope, error) {
	var loaded []es.Envelope
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mb, err := cc.Fetch(fetchBatchSize, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			env, err := decodeMsg(msg)
			if err != nil {
				return nil, fmt.Errorf("decode message: %w", err)
			}
			loaded = append(loaded, *env)
			if env.Seq >= endSeq {
				return loaded, nil
			}
		}
		if err := mb.Error(); err != nil && !errors.Is(err, natsgo.ErrTimeout) {
			return nil, err
		}
		if empty {
			return nil, fmt.Errorf("stream ended before sequence %d", endSeq)
		}
	}
}

func (e *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expected es.Version,
	events []es.Envelope,
) (*es.StoreAppendResult, error) {
	if err := es.CheckAppend(aggType, aggID, expected, events); err != nil {
		return nil, err
	}

	subj := e.subjectForAggregate(aggType, aggID)
	last, err := e.lastEnvelope(ctx, subj)
	if err != nil {
		return nil, fmt.Errorf("read stream head: %w", err)
	}

	var (
		current es.Version
		lastSeq uint64
	)
	if last != nil {
		current, lastSeq = last.Version, last.Seq
	}
	if current != expected {
		return nil, &es.ConcurrencyError{AggregateType: aggType, AggregateID: aggID, Expected: expected, Actual: current}
	}

	// every publish expects the previous one to be the subject's last
	// message, so a concurrent writer fails on its first event
	for i, ev := range events {
		lastSeq, err = e.publish(ctx, subj, ev, lastSeq)
		if err == nil {
			continue
		}
		if i == 0 && isWrongLastSequence(err) {
			actual, headErr := e.lastEnvelope(ctx, subj)
			if headErr != nil {
				return nil, errors.Join(err, headErr)
			}
			cerr := &es.ConcurrencyError{AggregateType: aggType, AggregateID: aggID, Expected: expected}
			if actual != nil {
				cerr.Actual = actual.Version
			}
			return nil, cerr
		}
		if i > 0 {
			e.log.Warn("partial append",
				slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
				events[i-1].Version.SlogAttrWithKey("stored"),
				slog.Any("error", err),
			)
			return nil, &PartialAppendError{AggregateType: aggType, AggregateID: aggID, Stored: events[i-1].Version, Err: err}
		}
		return nil, fmt.Errorf("append %s version %d: %w", ev.Type, ev.Version, err)
	}

	e.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(events)),
	)

	return &es.StoreAppendResult{LastSeq: lastSeq}, nil
}

func (e *EventStore) publish(ctx context.Context, subject string, ev es.Envelope, lastSubjectSeq uint64) (uint64, error) {
	msg := natsgo.NewMsg(subject)
	msg.Header.Set("x-event-type", ev.Type)
	msg.Header.Set("x-aggregate-type", ev.AggregateType)
	msg.Header.Set("x-aggregate-id", ev.AggregateID)

	var err error
	msg.Data, err = json.Marshal(ev)
	if err != nil {
		return 0, err
	}

	ack, err := e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithMsgID(ev.ID),
		jetstream.WithExpectLastSequencePerSubject(lastSubjectSeq),
	)
	if err != nil {
		return 0, err
	}
	return ack.Sequence, nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, *jetstream.StreamInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err := s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func decodeMsg(msg jetstream.Msg) (*es.Envelope, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, err
	}
	env := &es.Envelope{}
	if err := json.Unmarshal(msg.Data(), env); err != nil {
		return nil, err
	}
	env.Seq = md.Sequence.Stream
	return env, nil
}

// lastEnvelope returns the newest envelope on subject, or nil.
func (e *EventStore) lastEnvelope(ctx context.Context, subject string) (*es.Envelope, error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	env := &es.Envelope{}
	if err := json.Unmarshal(lm.Data, env); err != nil {
		return nil, fmt.Errorf("unmarshal last message for subject %q: %w", subject, err)
	}
	env.Seq = lm.Sequence
	return env, nil
}

func (e *EventStore) subjectForAggregate(aggregateType, aggregateID string) string {
	if e.renameType != nil {
		aggregateType = e.renameType(aggregateType)
	}
	return e.subjectPrefix + "." + aggregateType + "." + aggregateID
}

var _ es.EventStore = (*EventStore)(nil)
