package ingestion_engine

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// SplitText runs text through the fragment and chunk stages and collects the
// result. Chunks hold about targetTokens tokens and repeat roughly
// overlapTokens from the end of the previous chunk.
func SplitText(ctx context.Context, text string, targetTokens, overlapTokens int) ([]Chunk, error) {
	g, gctx := errgroup.WithContext(ctx)

	frags := streamFragments(gctx, g, text, targetTokens)
	chunks := streamChunk(gctx, g, frags, targetTokens, overlapTokens)

	var out []Chunk
	g.Go(func() error {
		for ch := range chunks {
			out = append(out, ch)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// streamFragments emits the non-empty lines of text, splitting any line
// longer than maxTokens so no single fragment overflows a chunk.
func streamFragments(ctx context.Context, g *errgroup.Group, text string, maxTokens int) <-chan string {
	out := make(chan string, 32)

	g.Go(func() error {
		defer close(out)
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			for _, frag := range splitLong(line, maxTokens) {
				select {
				case out <- frag:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	})

	return out
}

// streamChunk groups incoming fragments into token-bounded chunks with optional overlap.
//
// frags:          upstream fragments channel.
// targetTokens:   approximate tokens per chunk.
// overlapTokens:  tokens to retain from the end of the previous chunk as seed of the next.
func streamChunk(
	ctx context.Context,
	g *errgroup.Group,
	frags <-chan string,
	targetTokens int,
	overlapTokens int,
) <-chan Chunk {
	out := make(chan Chunk, 8)

	g.Go(func() error {
		defer close(out)

		var (
			buf    []string
			tokSum int
			fresh  int // fragments added since the last flush
			pos    int
		)

		flush := func() error {
			ch := Chunk{Pos: pos, Text: strings.Join(buf, "\n"), TokenCnt: tokSum}
			pos++

			select {
			case out <- ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			fresh = 0

			// Keep a tail of about overlapTokens, but never the whole buffer,
			// or the next chunk could be nothing but repeated text.
			keepFrom := len(buf)
			remain := overlapTokens
			for j := len(buf) - 1; j > 0 && remain > 0; j-- {
				remain -= approxTokens(buf[j])
				keepFrom = j
			}
			buf = append([]string(nil), buf[keepFrom:]...)

			tokSum = 0
			for _, s := range buf {
				tokSum += approxTokens(s)
			}
			return nil
		}

		for frag := range frags {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			buf = append(buf, frag)
			tokSum += approxTokens(frag)
			fresh++

			if tokSum >= targetTokens {
				if err := flush(); err != nil {
					return err
				}
			}
		}

		// Emit the remaining tail unless it is only overlap already sent.
		if fresh > 0 {
			return flush()
		}
		return nil
	})

	return out
}

// splitLong breaks s into word-aligned pieces of at most maxTokens tokens.
// A single word longer than that is cut by runes.
func splitLong(s string, maxTokens int) []string {
	if maxTokens <= 0 || approxTokens(s) <= maxTokens {
		return []string{s}
	}

	maxRunes := maxTokens * 4
	var (
		out []string
		cur strings.Builder
	)
	emit := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, word := range strings.Fields(s) {
		for len([]rune(word)) > maxRunes {
			emit()
			r := []rune(word)
			out = append(out, string(r[:maxRunes]))
			word = string(r[maxRunes:])
		}
		if cur.Len() > 0 && approxTokens(cur.String()+" "+word) > maxTokens {
			emit()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	emit()
	return out
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
