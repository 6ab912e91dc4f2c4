// Package grpcapi binds internal/command's transport-agnostic Command
// Interface to gRPC, the concrete transport the spec's "thin HTTP/
// WebSocket layer" is built on top of.
package grpcapi

//go:generate protoc --go_out=../../proto/silviapidpb --go_opt=paths=source_relative --go-grpc_out=../../proto/silviapidpb --go-grpc_opt=paths=source_relative -I ../../proto ../../proto/silviapid.proto

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/srjwebster/silvia-pid/internal/command"
	"github.com/srjwebster/silvia-pid/internal/mode"
	pb "github.com/srjwebster/silvia-pid/proto/silviapidpb"
)

// Server implements pb.CommandServiceServer over an internal/command
// Interface. It holds no state beyond the delegate.
type Server struct {
	pb.UnimplementedCommandServiceServer
	cmd *command.Interface
}

// New constructs a Server delegating to cmd.
func New(cmd *command.Interface) *Server {
	return &Server{cmd: cmd}
}

func (s *Server) SetMode(ctx context.Context, req *pb.SetModeRequest) (*pb.ModeReply, error) {
	res, err := s.cmd.SetMode(mode.Mode(req.Mode), time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toModeReply(res), nil
}

func (s *Server) GetMode(ctx context.Context, req *pb.GetModeRequest) (*pb.ModeReply, error) {
	return toModeReply(s.cmd.GetMode()), nil
}

func (s *Server) SetTarget(ctx context.Context, req *pb.SetTargetRequest) (*pb.ModeReply, error) {
	res, err := s.cmd.SetTarget(req.TemperatureC)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toModeReply(res), nil
}

func (s *Server) SetGains(ctx context.Context, req *pb.SetGainsRequest) (*pb.GainsReply, error) {
	g, err := s.cmd.SetGains(req.Proportional, req.Integral, req.Derivative)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.GainsReply{Proportional: g.P, Integral: g.I, Derivative: g.D}, nil
}

func (s *Server) SetGain(ctx context.Context, req *pb.SetGainRequest) (*pb.GainReply, error) {
	name, v, err := s.cmd.SetGain(command.GainName(req.Name), req.Value)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.GainReply{Name: string(name), Value: v}, nil
}

func (s *Server) History(ctx context.Context, req *pb.HistoryRequest) (*pb.HistoryReply, error) {
	recs, err := s.cmd.History(int(req.Limit))
	if err != nil {
		return nil, toGRPCError(err)
	}
	out := make([]*pb.Record, len(recs))
	for i, r := range recs {
		out[i] = &pb.Record{
			TemperatureC:  r.TemperatureC,
			OutputPercent: r.OutputPercent,
			TimestampMs:   r.TimestampMs,
			PidMode:       string(r.PIDMode),
		}
	}
	return &pb.HistoryReply{Records: out}, nil
}

func (s *Server) GetState(ctx context.Context, req *pb.GetStateRequest) (*pb.StateReply, error) {
	res := s.cmd.GetState()
	return &pb.StateReply{
		MachineState: string(res.MachineState),
		UpdatedAt:    res.UpdatedAt,
		Description:  res.Description,
	}, nil
}

func toModeReply(res command.ModeResult) *pb.ModeReply {
	remaining := int64(-1)
	if res.SteamRemaining != nil {
		remaining = int64(res.SteamRemaining.Seconds())
	}
	return &pb.ModeReply{
		Mode:                  string(res.Mode),
		Target:                res.Target,
		EspressoPreference:    res.EspressoPref,
		SteamPreference:       res.SteamPref,
		SteamRemainingSeconds: remaining,
		MachineState:          string(res.MachineState),
	}
}

func toGRPCError(err error) error {
	var ve command.ValidationError
	if errors.As(err, &ve) {
		return status.Error(codes.InvalidArgument, ve.Error())
	}
	log.Error().Err(err).Msg("grpcapi: internal failure")
	return status.Error(codes.Internal, err.Error())
}
