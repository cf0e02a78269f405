// Package frontend is the TCP line-protocol adaptor: it accepts
// connections, parses each line into an eventqueue.Event, pushes it,
// and writes back whatever the supervisor replies.
package frontend

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"rtsupervisor/internal/eventqueue"
	"rtsupervisor/internal/logging"
	"rtsupervisor/internal/util"
)

// Server accepts connections on a TCP listener and feeds parsed commands
// into an eventqueue.Queue.
type Server struct {
	queue         *eventqueue.Queue
	logger        *logging.Logger
	maxClients    int
	netBufferSize int
	connCount     atomic.Int64
}

// New constructs a Server bounded to maxClients concurrent connections.
// netBufferSize caps the length of any single reply line written back
// to a connection; replies longer than this are truncated rather than
// handed to conn.Write unbounded.
func New(queue *eventqueue.Queue, logger *logging.Logger, maxClients, netBufferSize int) *Server {
	return &Server{queue: queue, logger: logger, maxClients: maxClients, netBufferSize: netBufferSize}
}

// Serve accepts connections on ln until ctx is canceled or Accept
// returns an error (typically because ln was closed).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		if int(s.connCount.Load()) >= s.maxClients {
			conn.Write([]byte("[SERVER]: ERR System Busy\n"))
			conn.Close()
			continue
		}

		s.connCount.Add(1)
		go func() {
			defer s.connCount.Add(-1)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reqID := util.NewReqID()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		ev, shutdown, err := parseCommand(line)
		if err != nil {
			conn.Write([]byte("[SERVER]: ERR Invalid Command\n"))
			continue
		}

		reply := make(chan string, 1)
		ev.Reply = reply
		if pushErr := s.queue.Push(ev); pushErr != nil {
			conn.Write([]byte("[SERVER]: ERR System Busy\n"))
			continue
		}

		resp := <-reply
		if s.netBufferSize > 0 && len(resp) > s.netBufferSize {
			resp = resp[:s.netBufferSize]
		}
		conn.Write([]byte(resp + "\n"))

		if shutdown {
			if s.logger != nil {
				s.logger.Info().Str("conn", reqID).Log("connection observed shutdown, closing")
			}
			return
		}
	}
}

// parseCommand turns one line of the protocol into an Event. The bool
// return reports whether the line was a SHUTDOWN command, so the
// connection handler knows to stop reading after replying.
func parseCommand(line string) (eventqueue.Event, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return eventqueue.Event{}, false, fmt.Errorf("frontend: empty command")
	}

	cmd := strings.ToUpper(fields[0])
	switch cmd {
	case "ACTIVATE", "A":
		if len(fields) != 2 {
			return eventqueue.Event{}, false, fmt.Errorf("frontend: ACTIVATE requires a task name")
		}
		return eventqueue.Event{Kind: eventqueue.Activate, TaskName: fields[1]}, false, nil

	case "DEACTIVATE", "D":
		if len(fields) != 2 {
			return eventqueue.Event{}, false, fmt.Errorf("frontend: DEACTIVATE requires an instance id")
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil || id == 0 {
			return eventqueue.Event{}, false, fmt.Errorf("frontend: invalid instance id %q", fields[1])
		}
		return eventqueue.Event{Kind: eventqueue.Deactivate, InstanceID: id}, false, nil

	case "LIST", "L":
		if len(fields) != 1 {
			return eventqueue.Event{}, false, fmt.Errorf("frontend: LIST takes no arguments")
		}
		return eventqueue.Event{Kind: eventqueue.List}, false, nil

	case "INFO", "I":
		if len(fields) != 1 {
			return eventqueue.Event{}, false, fmt.Errorf("frontend: INFO takes no arguments")
		}
		return eventqueue.Event{Kind: eventqueue.Info}, false, nil

	case "SHUTDOWN", "S":
		if len(fields) != 1 {
			return eventqueue.Event{}, false, fmt.Errorf("frontend: SHUTDOWN takes no arguments")
		}
		return eventqueue.Event{Kind: eventqueue.Shutdown}, true, nil

	default:
		return eventqueue.Event{}, false, fmt.Errorf("frontend: unrecognized command %q", cmd)
	}
}
