package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexballas/mcp-jellyfin/internal/domain"
)

const readChunkSize = 32 * 1024

type Server struct {
	in            io.Reader
	out           *bufio.Writer
	writeMu       sync.Mutex
	decoder       *Decoder
	serverName    string
	serverVersion string
	logger        *slog.Logger
	tools         ToolRunner
}

type Config struct {
	ServerName    string
	ServerVersion string
	Logger        *slog.Logger
	Tools         ToolRunner
	MaxFrameBytes int
}

func New(in io.Reader, out io.Writer, cfg Config) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "mcp-jellyfin"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}

	s := &Server{
		in:            in,
		out:           bufio.NewWriter(out),
		serverName:    cfg.ServerName,
		serverVersion: cfg.ServerVersion,
		logger:        cfg.Logger,
		tools:         cfg.Tools,
	}
	s.decoder = NewDecoder(cfg.MaxFrameBytes, s.diagnostic)
	return s
}

type readResult struct {
	chunk []byte
	err   error
}

// Run reads the input stream until EOF or ctx is done. Every decoded body is
// dispatched on its own goroutine; Run waits for all of them before returning.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	reads := make(chan readResult)
	go s.readLoop(gctx, reads)

	for {
		select {
		case <-gctx.Done():
			waitErr := g.Wait()
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.logLifecycle(slog.LevelInfo, "mcp_context_done", slog.String("reason", ctxErr.Error()))
				return ctxErr
			}
			return waitErr
		case res := <-reads:
			if len(res.chunk) > 0 {
				for _, body := range s.decoder.Feed(res.chunk) {
					s.logLifecycle(slog.LevelDebug, "mcp_message_received", slog.Int("bytes", len(body)))
					g.Go(func() error {
						return s.dispatch(gctx, body)
					})
				}
			}
			if res.err == nil {
				continue
			}

			waitErr := g.Wait()
			if errors.Is(res.err, io.EOF) {
				if pending := s.decoder.Buffered(); pending > 0 {
					s.logLifecycle(slog.LevelDebug, "mcp_partial_frame_dropped", slog.Int("bytes", pending))
				}
				s.logLifecycle(slog.LevelInfo, "mcp_stream_eof")
				return waitErr
			}
			s.logLifecycle(slog.LevelError, "mcp_read_error", slog.String("error", res.err.Error()))
			if waitErr != nil {
				return waitErr
			}
			return res.err
		}
	}
}

// readLoop is the only reader of s.in. Each chunk is a fresh slice because the
// decoder copies it but the channel hands it across goroutines.
func (s *Server) readLoop(ctx context.Context, reads chan<- readResult) {
	for {
		s.logLifecycle(slog.LevelDebug, "mcp_read_wait")
		buf := make([]byte, readChunkSize)
		n, err := s.in.Read(buf)
		select {
		case reads <- readResult{chunk: buf[:n], err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, body json.RawMessage) error {
	resp := s.handle(ctx, body)
	if resp == nil {
		return nil
	}
	if err := s.send(*resp); err != nil {
		s.logLifecycle(slog.LevelError, "mcp_handle_error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// send writes one framed response. Writes are serialized so frames from
// concurrent dispatches never interleave.
func (s *Server) send(resp response) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	frame := EncodeFrame(encoded)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.logLifecycle(slog.LevelDebug, "mcp_send", slog.Int("bytes", len(encoded)))
	if _, err := s.out.Write(frame); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *Server) definitions() []domain.ToolDefinition {
	if s.tools == nil {
		return []domain.ToolDefinition{}
	}
	return s.tools.Definitions()
}

// diagnostic receives decoder reports about frames that were dropped.
func (s *Server) diagnostic(msg string) {
	s.logLifecycle(slog.LevelWarn, "mcp_frame_dropped", slog.String("reason", msg))
}

func (s *Server) logCall(requestID, method, sessionID string, startedAt time.Time, errorCode string) {
	if s == nil || s.logger == nil {
		return
	}
	level := slog.LevelInfo
	if strings.TrimSpace(errorCode) != "" {
		level = slog.LevelError
	}

	s.logger.Log(
		context.Background(),
		level,
		"mcp_call",
		slog.String("request_id", requestID),
		slog.String("method", strings.TrimSpace(method)),
		slog.String("session_id", strings.TrimSpace(sessionID)),
		slog.Int64("duration_ms", time.Since(startedAt).Milliseconds()),
		slog.String("error_code", strings.TrimSpace(errorCode)),
	)
}

func (s *Server) logLifecycle(level slog.Level, msg string, attrs ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
}
