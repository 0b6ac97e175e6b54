package team

import (
	"fmt"
	"os"
	"time"
)

// SendMessage appends an envelope to the recipient's inbox under the
// inbox lock. Non-members have no inbox.
func (s *Store) SendMessage(teamName, from, to, subject, body string) error {
	if !s.IsMember(teamName, to) {
		return fmt.Errorf("%w: %s@%s", ErrNoInbox, to, teamName)
	}

	path := s.inboxPath(teamName, to)
	unlock, err := acquireLock(path)
	if err != nil {
		return err
	}
	defer unlock()

	var envelopes []Envelope
	if err := readJSON(path, &envelopes); err != nil && !os.IsNotExist(err) {
		return err
	}
	envelopes = append(envelopes, Envelope{
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC(),
		Subject:   subject,
		Body:      body,
	})
	return writeJSONAtomic(path, envelopes)
}

// CheckInbox returns the unread envelopes for an agent. With markRead,
// the rewrite happens under the same lock that senders take, so a
// concurrent append is never lost.
func (s *Store) CheckInbox(teamName, agent string, markRead bool) ([]Envelope, error) {
	if !s.IsMember(teamName, agent) {
		return nil, fmt.Errorf("%w: %s@%s", ErrNoInbox, agent, teamName)
	}
	path := s.inboxPath(teamName, agent)

	if !markRead {
		var envelopes []Envelope
		if err := readJSON(path, &envelopes); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		return unreadOf(envelopes), nil
	}

	unlock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var envelopes []Envelope
	if err := readJSON(path, &envelopes); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	unread := unreadOf(envelopes)
	if len(unread) == 0 {
		return nil, nil
	}
	for i := range envelopes {
		envelopes[i].Read = true
	}
	if err := writeJSONAtomic(path, envelopes); err != nil {
		return nil, err
	}
	return unread, nil
}

func unreadOf(envelopes []Envelope) []Envelope {
	var unread []Envelope
	for _, e := range envelopes {
		if !e.Read {
			unread = append(unread, e)
		}
	}
	return unread
}
