package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mediconnect/consult-relay/internal/account"
	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/logger"
	v1 "github.com/mediconnect/consult-relay/proto/chat/v1"
)

// Register creates an account and returns its first token.
func (s *Server) Register(ctx context.Context, req *v1.RegisterRequest) (*v1.AuthResponse, error) {
	sess, err := s.accounts.Register(ctx, account.RegisterRequest{
		Email:       req.GetEmail(),
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        chat.Role(req.Role),
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return toAuthResponse(sess), nil
}

// Login authenticates a user and returns a token.
func (s *Server) Login(ctx context.Context, req *v1.LoginRequest) (*v1.AuthResponse, error) {
	sess, err := s.accounts.Login(ctx, account.LoginRequest{Email: req.GetEmail(), Password: req.Password})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return toAuthResponse(sess), nil
}

func (s *Server) CreateOrGetConversation(ctx context.Context, req *v1.CreateOrGetConversationRequest) (*v1.Conversation, error) {
	id, ok := identityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing identity")
	}
	conv, err := s.chat.CreateOrGetConversation(ctx, id, chat.OpenRequest{
		ProviderID:    req.ProviderId,
		PatientID:     req.PatientId,
		AppointmentID: req.AppointmentId,
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return toConversation(conv), nil
}

// SendMessage stores the message and returns it. Live fan-out happens after
// the write and never affects the response.
func (s *Server) SendMessage(ctx context.Context, req *v1.SendMessageRequest) (*v1.Message, error) {
	id, ok := identityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing identity")
	}
	msg, err := s.chat.SendMessage(ctx, id, req.ConversationId, req.Body, "")
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return toMessage(msg), nil
}

func (s *Server) MarkRead(ctx context.Context, req *v1.MarkReadRequest) (*v1.ReadReceipt, error) {
	id, ok := identityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing identity")
	}
	receipt, err := s.chat.MarkRead(ctx, id, req.ConversationId)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &v1.ReadReceipt{
		ConversationId: receipt.ConversationID,
		MessageIds:     receipt.MessageIDs,
		ReaderId:       receipt.ReaderID,
	}, nil
}

func (s *Server) GetPresence(ctx context.Context, req *v1.GetPresenceRequest) (*v1.Presence, error) {
	if req.UserId == "" {
		return nil, status.Error(codes.InvalidArgument, "userId is required")
	}
	return &v1.Presence{UserId: req.UserId, Online: s.chat.Online(ctx, req.UserId)}, nil
}

// ListConversations streams the caller's conversations, most recent first.
func (s *Server) ListConversations(_ *v1.ListConversationsRequest, stream v1.ChatService_ListConversationsServer) error {
	ctx := stream.Context()
	id, ok := identityFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing identity")
	}
	summaries, err := s.chat.ListConversations(ctx, id)
	if err != nil {
		return toStatus(ctx, err)
	}
	for _, sum := range summaries {
		out := &v1.ConversationSummary{Conversation: toConversation(sum.Conversation), UnreadCount: sum.UnreadCount}
		if sum.LastMessage != nil {
			out.LastMessage = toMessage(*sum.LastMessage)
		}
		if err := stream.Send(out); err != nil {
			return status.Errorf(codes.Internal, "failed to send conversation: %v", err)
		}
	}
	return nil
}

// ListMessages streams a conversation's history in commit order.
func (s *Server) ListMessages(req *v1.ListMessagesRequest, stream v1.ChatService_ListMessagesServer) error {
	ctx := stream.Context()
	id, ok := identityFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing identity")
	}
	msgs, err := s.chat.ListMessages(ctx, id, req.ConversationId)
	if err != nil {
		return toStatus(ctx, err)
	}
	for _, m := range msgs {
		if err := stream.Send(toMessage(m)); err != nil {
			return status.Errorf(codes.Internal, "failed to send message: %v", err)
		}
	}
	return nil
}

// Connect is the live channel. The identity was verified by the stream
// interceptor before this runs; a single writer goroutine owns stream.Send.
func (s *Server) Connect(stream v1.ChatService_ConnectServer) error {
	ctx := stream.Context()
	id, ok := identityFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing identity")
	}

	conn, err := s.chat.Connect(ctx, id)
	if err != nil {
		return toStatus(ctx, err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{ConnectionID: conn.ID, Component: "grpc.connect"})
	defer s.chat.Disconnect(context.WithoutCancel(ctx), conn)

	pumpCtx, cancel := context.WithCancel(ctx)
	pumped := make(chan error, 1)
	go func() {
		pumped <- conn.Pump(pumpCtx, func(ev chat.Event) error {
			f, err := chat.EncodeFrame(ev)
			if err != nil {
				slog.ErrorContext(ctx, "encode event", "event", ev.EventName(), "error", err)
				return nil
			}
			return stream.Send(&v1.ServerFrame{Event: f.Event, Data: f.Data})
		})
	}()
	defer func() {
		cancel()
		<-pumped
	}()

	for {
		in, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.Canceled || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return status.Errorf(codes.Internal, "receive error: %v", err)
		}

		cmd := chat.Command{Event: in.Event, RoomKey: in.RoomKey, IsTyping: in.IsTyping}
		if err := s.chat.HandleCommand(ctx, conn, cmd); err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
	}
}
