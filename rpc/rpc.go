package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/models"
	"github.com/wfunc/cardduel/room"
)

// ServiceName is the net/rpc name GameService is registered under.
const ServiceName = "GameService"

const callTimeout = 3 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	server   *rpc.Server
}

// NewServer creates a new RPC server exposing svc.
func NewServer(addr string, svc *GameService) (*Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(ServiceName, svc); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		server:   server,
	}, nil
}

// Addr is the bound listener address.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.server.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// StatsSource is the live coordinator.
type StatsSource interface {
	Stats(ctx context.Context) (room.Stats, error)
}

// HistorySource is the match history.
type HistorySource interface {
	OutcomeStats(ctx context.Context) (models.OutcomeStats, error)
	RecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error)
}

// GameService is the struct that exposes RPC methods.
type GameService struct {
	rooms   StatsSource
	history HistorySource
}

// NewGameService creates a new GameService.
func NewGameService(rooms StatsSource, history HistorySource) *GameService {
	return &GameService{rooms: rooms, history: history}
}

type GetStatsArgs struct{}

type GetStatsReply struct {
	Live     room.Stats
	Outcomes models.OutcomeStats
}

// GetStats is an RPC method reporting live rooms and recorded outcomes.
// It must follow the net/rpc signature: exported method, exported arguments,
// second argument is a pointer, return type is error.
func (gs *GameService) GetStats(args *GetStatsArgs, reply *GetStatsReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	live, err := gs.rooms.Stats(ctx)
	if err != nil {
		return err
	}
	outcomes, err := gs.history.OutcomeStats(ctx)
	if err != nil {
		return err
	}
	reply.Live = live
	reply.Outcomes = outcomes
	return nil
}

type RecentMatchesArgs struct {
	Limit int
}

type RecentMatchesReply struct {
	Matches []models.MatchRecord
}

func (gs *GameService) RecentMatches(args *RecentMatchesArgs, reply *RecentMatchesReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	matches, err := gs.history.RecentMatches(ctx, args.Limit)
	if err != nil {
		return err
	}
	reply.Matches = matches
	return nil
}

// Client is a thin net/rpc client for GameService.
type Client struct {
	c *rpc.Client
}

func Dial(addr string) (*Client, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{c: c}, nil
}

func (c *Client) GetStats() (GetStatsReply, error) {
	var reply GetStatsReply
	err := c.c.Call(ServiceName+".GetStats", &GetStatsArgs{}, &reply)
	return reply, err
}

func (c *Client) RecentMatches(limit int) ([]models.MatchRecord, error) {
	var reply RecentMatchesReply
	err := c.c.Call(ServiceName+".RecentMatches", &RecentMatchesArgs{Limit: limit}, &reply)
	return reply.Matches, err
}

func (c *Client) Close() error {
	return c.c.Close()
}
