package mission

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Poster posts a JSON status update. *Client satisfies it.
type Poster interface {
	PostUpdate(ctx context.Context, payload any) error
}

// Handler runs one operator command and returns a short message for the
// operator.
type Handler func(ctx context.Context) (string, error)

// Commands runs each operator command id at most once and reports its
// progress as running, then done or error.
type Commands struct {
	poster Poster

	mu       sync.Mutex
	handlers map[string]Handler
	lastID   string
}

func NewCommands(poster Poster) *Commands {
	return &Commands{poster: poster, handlers: make(map[string]Handler)}
}

func (c *Commands) Register(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = h
}

// Handle runs cmd if its id is new. It returns false for a nil, id-less or
// already seen command.
func (c *Commands) Handle(ctx context.Context, cmd *Command) bool {
	if c == nil || cmd == nil || cmd.ID == "" {
		return false
	}
	c.mu.Lock()
	if cmd.ID == c.lastID {
		c.mu.Unlock()
		return false
	}
	c.lastID = cmd.ID
	h := c.handlers[cmd.Name]
	c.mu.Unlock()

	c.post(ctx, map[string]any{
		"command_status": CommandStatus{ID: cmd.ID, State: CommandRunning, Msg: cmd.Name},
	})

	st := CommandStatus{ID: cmd.ID, State: CommandDone}
	if h == nil {
		st.State = CommandError
		st.Msg = fmt.Sprintf("unknown command: %s", cmd.Name)
	} else {
		msg, err := runHandler(ctx, h)
		st.Msg = msg
		if err != nil {
			st.State = CommandError
			st.Msg = err.Error()
		}
	}
	log.Printf("mission command id=%s name=%s state=%s msg=%q", cmd.ID, cmd.Name, st.State, st.Msg)

	c.post(ctx, map[string]any{
		"command_status": st,
		"command":        nil,
	})
	return true
}

func runHandler(ctx context.Context, h Handler) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()
	return h(ctx)
}

func (c *Commands) post(ctx context.Context, payload map[string]any) {
	if c.poster == nil {
		return
	}
	if err := c.poster.PostUpdate(ctx, payload); err != nil {
		log.Printf("mission command status post failed: %v", err)
	}
}
