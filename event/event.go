package event

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Topic names a kind of change.
type Topic string

// Event describes a pending or committed change of a topic.
type Event struct {
	Topic Topic
	Old   any
	New   any
}

// VetoListener is consulted before a change is applied. Returning an error rejects the change.
type VetoListener func(e *Event) error

// Listener is informed after a change was applied.
type Listener func(e *Event)

// VetoError is returned by FireVetoable when a listener rejected the change.
type VetoError struct {
	Topic  Topic
	Reason error
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("change of %s vetoed: %v", e.Topic, e.Reason)
}

func (e *VetoError) Unwrap() error {
	return e.Reason
}

// IsVeto reports whether err is a veto.
func IsVeto(err error) bool {
	var vetoErr *VetoError
	return errors.As(err, &vetoErr)
}

// AllTopics subscribes a listener to every topic.
const AllTopics Topic = "*"

type entry struct {
	topic    Topic
	vetoer   VetoListener
	listener Listener
}

func (e *entry) matches(topic Topic) bool {
	return e.topic == AllTopics || e.topic == topic
}

// Channel is a synchronous publish/subscribe mechanism with vetoable pre-change
// and plain post-change notifications. Listeners are called in registration order.
// A Channel is not safe for concurrent use.
type Channel struct {
	vetos []*entry
	posts []*entry
}

func New() *Channel {
	return &Channel{}
}

// OnVeto registers a pre-change listener and returns a function that removes it.
func (c *Channel) OnVeto(topic Topic, fn VetoListener) (unsubscribe func()) {
	if fn == nil {
		panic("veto listener must be set")
	}
	e := &entry{topic: topic, vetoer: fn}
	c.vetos = append(c.vetos, e)
	return func() {
		c.vetos = lo.Without(c.vetos, e)
	}
}

// On registers a post-change listener and returns a function that removes it.
func (c *Channel) On(topic Topic, fn Listener) (unsubscribe func()) {
	if fn == nil {
		panic("listener must be set")
	}
	e := &entry{topic: topic, listener: fn}
	c.posts = append(c.posts, e)
	return func() {
		c.posts = lo.Without(c.posts, e)
	}
}

// FireVetoable asks every veto listener of the topic.
// The first rejection stops the round and is returned as a *VetoError.
func (c *Channel) FireVetoable(e *Event) error {
	for _, v := range snapshot(c.vetos, e.Topic) {
		if err := v.vetoer(e); err != nil {
			if IsVeto(err) {
				return err
			}
			return &VetoError{Topic: e.Topic, Reason: err}
		}
	}
	return nil
}

// Fire informs every post-change listener of the topic.
func (c *Channel) Fire(e *Event) {
	for _, l := range snapshot(c.posts, e.Topic) {
		l.listener(e)
	}
}

// HasListeners reports whether anything listens to the topic.
func (c *Channel) HasListeners(topic Topic) bool {
	return len(snapshot(c.vetos, topic)) > 0 || len(snapshot(c.posts, topic)) > 0
}

// snapshot copies the matching entries so that listeners may unsubscribe while being called.
func snapshot(entries []*entry, topic Topic) []*entry {
	return lo.Filter(entries, func(e *entry, _ int) bool {
		return e.matches(topic)
	})
}
