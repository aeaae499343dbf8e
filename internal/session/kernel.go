package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/instrument"
)

const kernelDialTimeout = 15 * time.Second

// KernelConfig points a kernel session at a Jupyter kernel gateway.
type KernelConfig struct {
	// GatewayURL is the gateway base, e.g. "http://localhost:8888".
	GatewayURL string

	// Token is the optional gateway auth token.
	Token string

	// KernelName selects the kernelspec, e.g. "python3".
	KernelName string
}

// Kernel is the kernel-protocol strategy: instead of a child process it
// owns a message channel to a Jupyter kernel and translates kernel message
// types (stream, error, execute_result, status idle) into the same
// OutputEvent shape the subprocess strategy produces, synthesizing the
// end and error sentinels so the assembler never knows the difference.
type Kernel struct {
	language string
	cfg      KernelConfig
	client   *http.Client
	log      *slog.Logger

	mu        sync.Mutex
	state     State
	started   bool
	counter   int
	kernelID  string
	sessionID string
	conn      *websocket.Conn

	termOnce sync.Once
}

// NewKernel creates an unstarted kernel session. The kernel is provisioned
// lazily on the first Execute.
func NewKernel(language string, cfg KernelConfig, log *slog.Logger) *Kernel {
	if cfg.KernelName == "" {
		cfg.KernelName = "python3"
	}
	return &Kernel{
		language:  language,
		cfg:       cfg,
		client:    &http.Client{Timeout: kernelDialTimeout},
		log:       log.With("language", language, "strategy", "kernel"),
		state:     StateIdle,
		sessionID: uuid.NewString(),
	}
}

// Language returns the language identifier.
func (k *Kernel) Language() string { return k.language }

// State returns the current lifecycle state.
func (k *Kernel) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Start provisions a kernel on the gateway and opens its channels socket.
func (k *Kernel) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.startLocked()
}

func (k *Kernel) startLocked() error {
	if k.started {
		return nil
	}
	if k.state == StateTerminated {
		return ErrSessionTerminated
	}

	body, _ := json.Marshal(map[string]string{"name": k.cfg.KernelName})
	req, err := http.NewRequest(http.MethodPost, k.cfg.GatewayURL+"/api/kernels", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if k.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+k.cfg.Token)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: kernel gateway unreachable: %v", ErrSpawnFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: kernel gateway returned %s", ErrSpawnFailed, resp.Status)
	}

	var kernel struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&kernel); err != nil {
		return fmt.Errorf("%w: decode kernel response: %v", ErrSpawnFailed, err)
	}

	wsURL, err := k.channelsURL(kernel.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	header := http.Header{}
	if k.cfg.Token != "" {
		header.Set("Authorization", "token "+k.cfg.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: kernelDialTimeout}
	conn, _, err := dialer.Dial(wsURL, header)
	if err != nil {
		return fmt.Errorf("%w: dial kernel channels: %v", ErrSpawnFailed, err)
	}

	k.kernelID = kernel.ID
	k.conn = conn
	k.started = true
	k.log.Debug("kernel started", "kernelId", kernel.ID)
	return nil
}

// channelsURL converts the gateway base URL into the websocket channels
// endpoint for a kernel.
func (k *Kernel) channelsURL(kernelID string) (string, error) {
	u, err := url.Parse(k.cfg.GatewayURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/kernels/" + kernelID + "/channels"
	u.RawQuery = "session_id=" + k.sessionID
	return u.String(), nil
}

// kernelMessage is the wire shape of a Jupyter protocol message.
type kernelMessage struct {
	Header       kernelHeader           `json:"header"`
	ParentHeader kernelHeader           `json:"parent_header"`
	Metadata     map[string]interface{} `json:"metadata"`
	Content      json.RawMessage        `json:"content"`
	Channel      string                 `json:"channel"`
}

type kernelHeader struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Version  string `json:"version"`
	Date     string `json:"date"`
}

// Execute submits an execute_request and streams translated kernel output.
func (k *Kernel) Execute(code string) (*Execution, error) {
	k.mu.Lock()
	if k.state == StateTerminated {
		k.mu.Unlock()
		return nil, ErrSessionTerminated
	}
	if k.state == StateExecuting {
		k.mu.Unlock()
		return nil, ErrSessionBusy
	}
	if err := k.startLocked(); err != nil {
		k.mu.Unlock()
		return nil, err
	}

	k.counter++
	markers := instrument.NewMarkers()
	ex := newExecution(fmt.Sprintf("%s-%d", k.language, k.counter), markers)
	k.state = StateExecuting
	conn := k.conn
	msgID := uuid.NewString()

	content, _ := json.Marshal(map[string]interface{}{
		"code":          instrument.KernelPython(code, markers),
		"silent":        false,
		"store_history": false,
		"allow_stdin":   false,
		"stop_on_error": true,
	})
	msg := kernelMessage{
		Header: kernelHeader{
			MsgID:    msgID,
			MsgType:  "execute_request",
			Session:  k.sessionID,
			Username: "interpreter",
			Version:  "5.3",
			Date:     time.Now().UTC().Format(time.RFC3339),
		},
		Metadata: map[string]interface{}{},
		Content:  json.RawMessage("null"),
		Channel:  "shell",
	}
	msg.Content = content

	if err := conn.WriteJSON(&msg); err != nil {
		k.state = StateTerminated
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: write execute_request: %v", ErrSpawnFailed, err)
	}
	k.mu.Unlock()

	go k.collect(ex, conn, msgID)
	return ex, nil
}

// collect reads kernel messages for one execution and translates them into
// OutputEvents, synthesizing the subprocess-style sentinels.
func (k *Kernel) collect(ex *Execution, conn *websocket.Conn, msgID string) {
	sawError := false

	for {
		var msg kernelMessage
		if err := conn.ReadJSON(&msg); err != nil {
			k.log.Debug("kernel channel closed", "error", err)
			k.markTerminated()
			ex.finish(ErrProcessCrashed)
			return
		}
		if msg.ParentHeader.MsgID != msgID {
			continue
		}

		switch msg.Header.MsgType {
		case "stream":
			var c struct {
				Name string `json:"name"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal(msg.Content, &c); err != nil {
				continue
			}
			stream := StreamStdout
			if c.Name == "stderr" {
				stream = StreamStderr
			}
			ex.emit(OutputEvent{Stream: stream, Text: c.Text, Time: time.Now().UTC()})

		case "error":
			var c struct {
				Traceback []string `json:"traceback"`
				EName     string   `json:"ename"`
				EValue    string   `json:"evalue"`
			}
			if err := json.Unmarshal(msg.Content, &c); err != nil {
				continue
			}
			text := strings.Join(c.Traceback, "\n")
			if text == "" {
				text = c.EName + ": " + c.EValue
			}
			ex.emit(OutputEvent{Stream: StreamStderr, Text: text + "\n", Time: time.Now().UTC()})
			sawError = true

		case "execute_result", "display_data":
			var c struct {
				Data map[string]json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(msg.Content, &c); err != nil {
				continue
			}
			var plain string
			if raw, ok := c.Data["text/plain"]; ok {
				if json.Unmarshal(raw, &plain) == nil && plain != "" {
					ex.emit(OutputEvent{Stream: StreamStdout, Text: plain + "\n", Time: time.Now().UTC()})
				}
			}

		case "status":
			var c struct {
				ExecutionState string `json:"execution_state"`
			}
			if err := json.Unmarshal(msg.Content, &c); err != nil {
				continue
			}
			if c.ExecutionState == "idle" {
				if sawError {
					ex.emit(OutputEvent{Stream: StreamStdout, Text: ex.Markers.Error() + "\n", Time: time.Now().UTC()})
				}
				ex.emit(OutputEvent{Stream: StreamStdout, Text: ex.Markers.End() + "\n", Time: time.Now().UTC()})
				k.mu.Lock()
				if k.state == StateExecuting {
					k.state = StateIdle
				}
				k.mu.Unlock()
				ex.finish(nil)
				return
			}
		}
	}
}

func (k *Kernel) markTerminated() {
	k.mu.Lock()
	k.state = StateTerminated
	k.mu.Unlock()
}

// Terminate shuts down the kernel on the gateway and closes the channel.
func (k *Kernel) Terminate() {
	k.termOnce.Do(func() {
		k.mu.Lock()
		k.state = StateTerminated
		conn := k.conn
		kernelID := k.kernelID
		started := k.started
		k.mu.Unlock()

		if !started {
			return
		}

		k.log.Debug("terminating kernel", "kernelId", kernelID)
		if conn != nil {
			conn.Close()
		}

		req, err := http.NewRequest(http.MethodDelete, k.cfg.GatewayURL+"/api/kernels/"+kernelID, nil)
		if err != nil {
			return
		}
		if k.cfg.Token != "" {
			req.Header.Set("Authorization", "token "+k.cfg.Token)
		}
		if resp, err := k.client.Do(req); err == nil {
			resp.Body.Close()
		}
	})
}
