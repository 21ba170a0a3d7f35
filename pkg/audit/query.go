package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// readLive parses every line of the group's live file. Lines that fail to
// parse are skipped here; VerifyIntegrity is where they surface.
func (l *Log) readLive(group string) ([]Entry, error) {
	g := l.group(group)
	g.mu.Lock()
	defer g.mu.Unlock()

	f, err := os.Open(l.livePath(group))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit file for group %s: %w", group, err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}

// ByCorrelation returns live entries whose correlation matches.
func (l *Log) ByCorrelation(group, correlation string) ([]Entry, error) {
	return l.filter(group, func(e Entry) bool {
		return e.Correlation == correlation
	})
}

// ByTopic returns live entries whose topic matches.
func (l *Log) ByTopic(group, topic string) ([]Entry, error) {
	return l.filter(group, func(e Entry) bool {
		return e.Topic == topic
	})
}

// ByOutcome returns live entries with the given outcome.
func (l *Log) ByOutcome(group string, outcome Outcome) ([]Entry, error) {
	return l.filter(group, func(e Entry) bool {
		return e.Outcome == outcome
	})
}

// ByTimeRange returns live entries with from <= timestamp < to.
func (l *Log) ByTimeRange(group string, from, to time.Time) ([]Entry, error) {
	return l.filter(group, func(e Entry) bool {
		ts, err := time.Parse("2006-01-02T15:04:05.000Z", e.Timestamp)
		if err != nil {
			return false
		}
		return !ts.Before(from) && ts.Before(to)
	})
}

func (l *Log) filter(group string, keep func(Entry) bool) ([]Entry, error) {
	entries, err := l.readLive(group)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
