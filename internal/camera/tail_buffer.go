package camera

// tailBuffer keeps the last maxLines lines of command output. Callers hold the
// camera mutex.
type tailBuffer struct {
	maxLines     int
	maxLineBytes int
	lines        []string
}

func newTailBuffer(maxLines, maxLineBytes int) *tailBuffer {
	return &tailBuffer{maxLines: maxLines, maxLineBytes: maxLineBytes, lines: make([]string, 0, maxLines)}
}

func (t *tailBuffer) add(line string) {
	if t.maxLines <= 0 {
		return
	}
	if len(line) > t.maxLineBytes {
		line = line[:t.maxLineBytes]
	}
	if len(t.lines) == t.maxLines {
		t.lines = append(t.lines[:0], t.lines[1:]...)
	}
	t.lines = append(t.lines, line)
}

func (t *tailBuffer) snapshot() []string {
	if len(t.lines) == 0 {
		return nil
	}
	return append([]string(nil), t.lines...)
}
