package chunker

import (
	"fmt"
	"strings"
	"time"

	"github.com/chatmemory/backend/internal/platform/logger"
)

// Msg is one ordered message from a single chat, as delivered by the fetcher.
type Msg struct {
	Seq          int64
	AuthorID     int64
	AuthorName   string
	AuthorHandle string
	Timestamp    time.Time
	Text         string
	ReplyToSeq   *int64
}

// Chunk is one chunker output unit with fully populated metadata. MsgID is
// the primary (first) message of the group; deep links and timestamps are
// synthesized from it.
type Chunk struct {
	ChatID    int64
	ChatTitle string

	MsgID  int64
	MsgIDs []int64

	ChunkIndex int
	ChunkTotal int

	Text     string
	FullText string

	Timestamp    time.Time
	SenderID     int64
	SenderName   string
	SenderHandle string

	ReplyToMsgID   *int64
	ReplyToText    string
	LikelyAnswerTo *int64
	IsQuestion     bool
	IsAnswer       bool

	MessageCount    int
	TimeSpanSeconds float64
}

type Config struct {
	// Group accumulation stops at this combined length.
	MaxGroupChars int
	// Final chunks are split to this size with OverlapChars of carry-over.
	ChunkSizeChars int
	OverlapChars   int

	GroupTimeWindow     time.Duration
	BusyChatTimeWindow  time.Duration
	BusyAuthorThreshold int
	BusyActivityWindow  time.Duration

	// Q/A inference windows.
	LikelyAnswerWindow time.Duration
	AnswerFollowWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxGroupChars:       400,
		ChunkSizeChars:      500,
		OverlapChars:        100,
		GroupTimeWindow:     120 * time.Second,
		BusyChatTimeWindow:  30 * time.Second,
		BusyAuthorThreshold: 5,
		BusyActivityWindow:  5 * time.Minute,
		LikelyAnswerWindow:  30 * time.Second,
		AnswerFollowWindow:  60 * time.Second,
	}
}

// Short affirmative/negative tokens that mark a standalone answer.
var answerTokens = map[string]struct{}{
	"yes": {}, "no": {}, "yeah": {}, "nope": {}, "yep": {},
	"done": {}, "fixed": {}, "completed": {}, "not yet": {}, "will do": {},
	"confirmed": {}, "negative": {},
}

// Chunker groups one chat's message stream into context-rich chunks.
type Chunker struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Chunker {
	if cfg.MaxGroupChars <= 0 {
		cfg = DefaultConfig()
	}
	return &Chunker{cfg: cfg, log: log.With("service", "Chunker")}
}

// group is the in-flight accumulation state.
type group struct {
	msgs    []Msg
	textLen int
}

func (g *group) last() Msg  { return g.msgs[len(g.msgs)-1] }
func (g *group) first() Msg { return g.msgs[0] }

func (g *group) combinedText() string {
	parts := make([]string, 0, len(g.msgs))
	for _, m := range g.msgs {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, " ")
}

// flushed records just enough of an emitted group for follow-up inference.
type flushed struct {
	authorID  int64
	lastSeq   int64
	lastTS    time.Time
	endsInQ   bool
	wasAReply bool
}

// Split consumes one chat's messages in order and emits chunks in order.
// Empty-text messages are skipped. Messages are never reordered; an
// out-of-order timestamp starts a fresh group.
func (c *Chunker) Split(chatID int64, chatTitle string, msgs []Msg) []Chunk {
	var (
		out  []Chunk
		cur  *group
		prev *flushed
		seen []Msg // processed messages, for Q/A and reply lookback
	)

	flush := func() {
		if cur == nil || len(cur.msgs) == 0 {
			return
		}
		chs, rec := c.finalizeGroup(chatID, chatTitle, cur, prev, seen)
		out = append(out, chs...)
		prev = rec
		cur = nil
	}

	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}

		if cur != nil {
			window := c.cfg.GroupTimeWindow
			if c.isBusy(seen, m) {
				window = c.cfg.BusyChatTimeWindow
			}
			switch {
			case m.AuthorID != cur.last().AuthorID:
				flush()
			case m.Timestamp.Before(cur.last().Timestamp):
				flush()
			case m.Timestamp.Sub(cur.last().Timestamp) > window:
				flush()
			case m.ReplyToSeq != nil:
				flush()
			case cur.textLen+len(m.Text)+1 > c.cfg.MaxGroupChars:
				flush()
			}
		}

		// A reply always stands alone; it also breaks continuity for the
		// message after it.
		if m.ReplyToSeq != nil {
			flush()
			cur = &group{msgs: []Msg{m}, textLen: len(m.Text)}
			seen = append(seen, m)
			flush()
			continue
		}

		if cur == nil {
			cur = &group{}
		}
		cur.msgs = append(cur.msgs, m)
		if cur.textLen > 0 {
			cur.textLen++
		}
		cur.textLen += len(m.Text)
		seen = append(seen, m)
	}
	flush()

	return out
}

// isBusy reports whether the rolling activity window around m has at least
// the configured number of distinct authors.
func (c *Chunker) isBusy(seen []Msg, m Msg) bool {
	cutoff := m.Timestamp.Add(-c.cfg.BusyActivityWindow)
	authors := map[int64]struct{}{m.AuthorID: {}}
	for i := len(seen) - 1; i >= 0; i-- {
		if seen[i].Timestamp.Before(cutoff) {
			break
		}
		authors[seen[i].AuthorID] = struct{}{}
		if len(authors) >= c.cfg.BusyAuthorThreshold {
			return true
		}
	}
	return len(authors) >= c.cfg.BusyAuthorThreshold
}

func (c *Chunker) finalizeGroup(chatID int64, chatTitle string, g *group, prev *flushed, seen []Msg) ([]Chunk, *flushed) {
	first := g.first()
	last := g.last()
	text := g.combinedText()
	fullText := text

	isReply := first.ReplyToSeq != nil

	base := Chunk{
		ChatID:          chatID,
		ChatTitle:       chatTitle,
		MsgID:           first.Seq,
		Timestamp:       first.Timestamp.UTC(),
		SenderID:        first.AuthorID,
		SenderName:      first.AuthorName,
		SenderHandle:    first.AuthorHandle,
		MessageCount:    len(g.msgs),
		TimeSpanSeconds: last.Timestamp.Sub(first.Timestamp).Seconds(),
	}
	for _, m := range g.msgs {
		base.MsgIDs = append(base.MsgIDs, m.Seq)
	}

	if isReply {
		base.ReplyToMsgID = first.ReplyToSeq
		if parent, ok := findBySeq(seen, *first.ReplyToSeq); ok {
			base.ReplyToText = truncate(parent.Text, 100)
			// Short replies carry their parent's text for retrievability.
			if len(text) < 50 && parent.Text != "" {
				text = fmt.Sprintf("%s replied '%s' to '%s'",
					first.AuthorName, text, truncate(parent.Text, 100))
			}
		}
	}

	base.IsQuestion = strings.HasSuffix(strings.TrimSpace(text), "?")

	trimmed := strings.ToLower(strings.TrimSpace(g.combinedText()))
	if _, ok := answerTokens[strings.TrimRight(trimmed, ".!")]; ok {
		base.IsAnswer = true
	} else if prev != nil &&
		prev.authorID != first.AuthorID &&
		prev.endsInQ &&
		len(strings.Fields(trimmed)) <= 4 &&
		first.Timestamp.Sub(prev.lastTS) <= c.cfg.AnswerFollowWindow {
		base.IsAnswer = true
	}

	if !isReply {
		if q, ok := c.findLikelyQuestion(seen, first); ok {
			seq := q.Seq
			base.LikelyAnswerTo = &seq
			base.IsAnswer = true
		}
	}

	base.FullText = fullText

	rec := &flushed{
		authorID:  last.AuthorID,
		lastSeq:   last.Seq,
		lastTS:    last.Timestamp,
		endsInQ:   strings.HasSuffix(strings.TrimSpace(last.Text), "?"),
		wasAReply: isReply,
	}

	pieces := c.splitText(text)
	chunks := make([]Chunk, 0, len(pieces))
	for i, p := range pieces {
		ch := base
		ch.Text = p
		ch.ChunkIndex = i
		ch.ChunkTotal = len(pieces)
		chunks = append(chunks, ch)
	}
	return chunks, rec
}

// findLikelyQuestion looks back for a question from another author that this
// group's first message plausibly answers.
func (c *Chunker) findLikelyQuestion(seen []Msg, first Msg) (Msg, bool) {
	cutoff := first.Timestamp.Add(-c.cfg.LikelyAnswerWindow)
	for i := len(seen) - 1; i >= 0; i-- {
		m := seen[i]
		if m.Timestamp.Before(cutoff) {
			break
		}
		if !m.Timestamp.Before(first.Timestamp) {
			continue
		}
		if m.AuthorID == first.AuthorID {
			continue
		}
		if strings.HasSuffix(strings.TrimSpace(m.Text), "?") {
			return m, true
		}
	}
	return Msg{}, false
}

func findBySeq(seen []Msg, seq int64) (Msg, bool) {
	for i := len(seen) - 1; i >= 0; i-- {
		if seen[i].Seq == seq {
			return seen[i], true
		}
	}
	return Msg{}, false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// splitText produces one piece when the text fits, otherwise splits on
// sentence boundaries carrying OverlapChars of tail context between adjacent
// pieces.
func (c *Chunker) splitText(text string) []string {
	size := c.cfg.ChunkSizeChars
	if len(text) <= size {
		return []string{text}
	}

	sentences := splitSentences(text, size)
	var (
		pieces  []string
		current strings.Builder
		carried int // length of the overlap tail at the start of current
	)
	for _, s := range sentences {
		if current.Len() >= c.cfg.OverlapChars && current.Len()+1+len(s) > size {
			// Never emit a piece that is only carried-over overlap.
			if current.Len() > carried {
				piece := current.String()
				pieces = append(pieces, piece)
				current.Reset()
				current.WriteString(overlapTail(piece, c.cfg.OverlapChars))
			}
			carried = current.Len()
			if carried > 0 && carried+1+len(s) > size {
				// The sentence does not fit even next to the bare tail;
				// drop the tail so no piece outgrows size plus overlap.
				current.Reset()
				carried = 0
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(s)
	}
	if current.Len() > carried {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// splitSentences breaks text on sentence punctuation; any single run longer
// than max is hard-split so every unit fits in a chunk.
func splitSentences(text string, max int) []string {
	var sentences []string
	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		boundary := (r == '.' || r == '!' || r == '?' || r == '\n') &&
			(i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n')
		if boundary {
			s := strings.TrimSpace(b.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}

	var out []string
	for _, s := range sentences {
		for len(s) > max {
			cut := strings.LastIndex(s[:max], " ")
			if cut <= 0 {
				cut = max
			}
			out = append(out, strings.TrimSpace(s[:cut]))
			s = strings.TrimSpace(s[cut:])
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// overlapTail returns the last n characters of piece, cut at a word boundary.
func overlapTail(piece string, n int) string {
	if n <= 0 || len(piece) == 0 {
		return ""
	}
	if len(piece) <= n {
		return piece
	}
	tail := piece[len(piece)-n:]
	if idx := strings.Index(tail, " "); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}
	return tail
}
