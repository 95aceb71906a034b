package transcript

import (
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldJournalEntry      protowire.Number = 1
	fieldJournalMaxEntries protowire.Number = 2
)

type Journal struct {
	MaxEntries int
	Entries    map[string]*Transcript
	lock       sync.Mutex
}

// New returns a Journal that holds transcripts for up to maxEntries peers, evicting the oldest
// transcript (by CreatedAt) when full.
//
// Set maxEntries to zero for an unbounded journal.
func New(maxEntries int) *Journal {
	return &Journal{
		MaxEntries: maxEntries,
		Entries:    make(map[string]*Transcript),
	}
}

// Import a Journal using data in r.
// The data should previously have been generated using [Journal.Export].
func Import(r io.Reader) (*Journal, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading journal")
	}
	journal := New(0)
	for len(data) > 0 {
		number, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		data = data[n:]
		switch {
		case number == fieldJournalEntry && wireType == protowire.BytesType:
			encoded, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.Wrap(ErrMalformed, "journal entry")
			}
			var t Transcript
			if err := t.UnmarshalBinary(encoded); err != nil {
				return nil, err
			}
			journal.Entries[t.PeerID()] = &t
			n = m
		case number == fieldJournalMaxEntries && wireType == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, errors.Wrap(ErrMalformed, "journal size")
			}
			journal.MaxEntries = int(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(number, wireType, data)
			if n < 0 {
				return nil, errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
			}
		}
		data = data[n:]
	}
	return journal, nil
}

// ImportFromFile reads a Journal from disk.
func ImportFromFile(filename string) (*Journal, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Import(file)
}

// Export writes a serialized Journal to w. Entries are written in PeerID order.
func (j *Journal) Export(w io.Writer) error {
	j.lock.Lock()
	defer j.lock.Unlock()

	var b []byte
	if j.MaxEntries > 0 {
		b = protowire.AppendTag(b, fieldJournalMaxEntries, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(j.MaxEntries))
	}
	for _, id := range j.idsLocked() {
		encoded, err := j.Entries[id].MarshalBinary()
		if err != nil {
			return errors.Wrapf(err, "encoding transcript %s", id)
		}
		b = protowire.AppendTag(b, fieldJournalEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, encoded)
	}
	_, err := w.Write(b)
	return err
}

// ExportToFile writes a Journal to disk, replacing any previous contents.
func (j *Journal) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	return j.Export(file)
}

// Add records t, replacing any transcript with the same PeerID.
func (j *Journal) Add(t *Transcript) {
	j.lock.Lock()
	defer j.lock.Unlock()

	id := t.PeerID()
	j.Entries[id] = t
	if j.MaxEntries > 0 && len(j.Entries) > j.MaxEntries {
		oldestID := id
		oldestCreationTime := t.CreatedAt
		for other, entry := range j.Entries {
			if entry.CreatedAt.Before(oldestCreationTime) {
				oldestID = other
				oldestCreationTime = entry.CreatedAt
			}
		}
		delete(j.Entries, oldestID)
	}
}

// Get returns the transcript recorded for peerID.
func (j *Journal) Get(peerID string) (*Transcript, bool) {
	j.lock.Lock()
	defer j.lock.Unlock()

	t, ok := j.Entries[peerID]
	return t, ok
}

func (j *Journal) Len() int {
	j.lock.Lock()
	defer j.lock.Unlock()
	return len(j.Entries)
}

// IDs returns the recorded PeerIDs in sorted order.
func (j *Journal) IDs() []string {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.idsLocked()
}

func (j *Journal) idsLocked() []string {
	ids := make([]string, 0, len(j.Entries))
	for id := range j.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
