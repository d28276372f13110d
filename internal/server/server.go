// Package server runs the datagram loop that talks to scanners
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/versatilecz/evac/internal/broker"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/message"
	"github.com/versatilecz/evac/internal/protocol"
	"github.com/versatilecz/evac/internal/repository"
	"github.com/versatilecz/evac/internal/services"
	"github.com/versatilecz/evac/internal/state"
)

// Options configure the server loop
type Options struct {
	Listen    netip.AddrPort
	Broadcast netip.AddrPort
	Routine   time.Duration
}

// Server owns the scanner socket. Everything else reaches scanners by
// queueing packets on the state.
type Server struct {
	state     *state.State
	processor services.ScanProcessor
	store     repository.Store
	opts      Options
	log       *logrus.Entry

	// saveMu keeps snapshots reaching the store in the order they were taken
	saveMu sync.Mutex
}

type packet struct {
	from netip.AddrPort
	data []byte
}

// New creates a server loop
func New(st *state.State, processor services.ScanProcessor, store repository.Store, opts Options) *Server {
	if opts.Routine <= 0 {
		opts.Routine = 5 * time.Second
	}
	return &Server{
		state:     st,
		processor: processor,
		store:     store,
		opts:      opts,
		log:       logging.Component("server"),
	}
}

// Run serves until Stop is signalled or ctx is cancelled. Reload rebinds
// the socket. Only a bind failure is returned as an error.
func (s *Server) Run(ctx context.Context) error {
	for {
		ctl := s.state.Control().Subscribe()
		reload, err := s.serve(ctx, ctl)
		ctl.Close()
		if err != nil {
			return err
		}
		if !reload {
			s.log.Info("Scanner server stopped")
			return nil
		}
		s.log.Info("Reloading scanner server")
	}
}

func (s *Server) serve(ctx context.Context, ctl *broker.Subscription[state.Control]) (bool, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(s.opts.Listen))
	if err != nil {
		return false, fmt.Errorf("failed to bind scanner socket %s: %w", s.opts.Listen, err)
	}
	s.log.WithField("addr", conn.LocalAddr()).Info("Scanner server listening")

	packets := make(chan packet, s.state.Settings().QuerySize)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.read(conn, packets, done)
	}()
	defer func() {
		close(done)
		conn.Close()
		wg.Wait()
	}()

	ticker := s.state.Clock().NewTicker(s.opts.Routine)
	defer ticker.Stop()

	for {
		select {
		case p := <-packets:
			s.handle(ctx, p)
		case o := <-s.state.Commands():
			s.send(conn, o)
		case <-ticker.Chan():
			s.Routine(ctx)
		case c, ok := <-ctl.C():
			if !ok || c == state.Stop {
				return false, nil
			}
			if c == state.Reload {
				return true, nil
			}
		case <-ctx.Done():
			return false, nil
		}
	}
}

func (s *Server) read(conn *net.UDPConn, out chan<- packet, done <-chan struct{}) {
	buf := make([]byte, protocol.MaxDatagram)
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Error("Failed to receive datagram")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- packet{from: from, data: data}:
		case <-done:
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, p packet) {
	msg, err := protocol.Decode(p.data)
	if err != nil {
		s.log.WithError(err).WithField("addr", p.from).Warn("Dropping datagram")
		return
	}
	s.log.WithFields(logrus.Fields{"addr": p.from, "message": msg.String()}).Debug("Received")
	if err := s.processor.Process(ctx, p.from, msg); err != nil {
		s.log.WithError(err).WithField("addr", p.from).Error("Failed to process message")
	}
}

func (s *Server) send(conn *net.UDPConn, o protocol.Outbound) {
	addr := o.Addr
	if o.Broadcast() {
		addr = s.opts.Broadcast
	}
	data, err := protocol.Encode(o.Message)
	if err != nil {
		s.log.WithError(err).Error("Failed to encode packet")
		return
	}
	if _, err := conn.WriteToUDPAddrPort(data, addr); err != nil {
		s.log.WithError(err).WithField("addr", addr).Error("Failed to send packet")
		return
	}
	s.log.WithFields(logrus.Fields{"addr": addr, "message": o.Message.String()}).Debug("Sent")
}

// Routine broadcasts the discovery beacon, evicts devices that are not
// enabled and were not seen for the activity window and ages the tracker.
// Saving happens in Persist, off the datagram loop.
func (s *Server) Routine(ctx context.Context) {
	window := s.state.Settings().ActivityDiff

	err := s.state.Update(func(tx *state.Tx) error {
		tx.Send(protocol.Outbound{Message: protocol.NewMessage(protocol.Hello{})})

		for _, d := range tx.Devices().Expired(window, tx.Now()) {
			tx.Devices().Remove(d.UUID)
			tx.Tracker().Remove(d.UUID)
			tx.MarkDirty()
			tx.Publish(message.New(message.Device.Removed(), d.UUID))
		}
		tx.Tracker().Clear(window, tx.Now())
		return nil
	})
	if err != nil {
		s.log.WithError(err).Error("Routine failed")
	}
}

// Persist saves the state every routine interval when it changed, until
// ctx is done
func (s *Server) Persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	ticker := s.state.Clock().NewTicker(s.opts.Routine)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := s.Flush(ctx); err != nil {
				s.log.WithError(err).Error("Failed to save state")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Flush saves the state if it changed since the last save
func (s *Server) Flush(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	snapshot, dirty := s.state.TakeDirty()
	if !dirty {
		return nil
	}
	if err := s.store.Save(ctx, snapshot); err != nil {
		s.state.MarkDirty()
		return err
	}
	return nil
}
