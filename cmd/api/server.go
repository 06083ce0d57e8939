package main

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mediconnect/consult-relay/internal/account"
	"github.com/mediconnect/consult-relay/internal/chat"
	v1 "github.com/mediconnect/consult-relay/proto/chat/v1"
)

// Server implements chat.v1.ChatService on top of the chat and account
// services.
type Server struct {
	v1.UnimplementedChatServiceServer

	chat     *chat.Service
	accounts *account.Service
}

func newServer(chatSvc *chat.Service, accounts *account.Service) *Server {
	return &Server{chat: chatSvc, accounts: accounts}
}

func registerService(s *grpc.Server, srv *Server) {
	v1.RegisterChatServiceServer(s, srv)
}

// toStatus maps domain errors onto gRPC codes. Unknown errors are logged and
// hidden behind Internal.
func toStatus(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case chat.IsAuth(err):
		return status.Error(codes.Unauthenticated, err.Error())
	case chat.IsForbidden(err):
		return status.Error(codes.PermissionDenied, err.Error())
	case chat.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case chat.IsValidation(err), chat.IsProtocol(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, account.ErrEmailTaken):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	slog.ErrorContext(ctx, "request failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}

func toConversation(c chat.Conversation) *v1.Conversation {
	return &v1.Conversation{
		Id:            c.ID,
		PatientId:     c.PatientID,
		ProviderId:    c.ProviderID,
		AppointmentId: c.AppointmentID,
		Status:        string(c.Status),
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
	}
}

func toMessage(m chat.Message) *v1.Message {
	return &v1.Message{
		Id:             m.ID,
		ConversationId: m.ConversationID,
		SenderId:       m.SenderID,
		Body:           m.Body,
		Type:           string(m.Type),
		Read:           m.Read,
		ReadAt:         m.ReadAt,
		Seq:            m.Seq,
		CreatedAt:      m.CreatedAt,
	}
}

func toAuthResponse(s account.Session) *v1.AuthResponse {
	return &v1.AuthResponse{
		Token:      s.Token,
		UserId:     s.UserID,
		Role:       string(s.Role),
		ProviderId: s.ProviderID,
		ExpiresAt:  s.ExpiresAt,
	}
}
