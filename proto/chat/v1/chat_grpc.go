package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ChatService_Register_FullMethodName                = "/chat.v1.ChatService/Register"
	ChatService_Login_FullMethodName                   = "/chat.v1.ChatService/Login"
	ChatService_CreateOrGetConversation_FullMethodName = "/chat.v1.ChatService/CreateOrGetConversation"
	ChatService_SendMessage_FullMethodName             = "/chat.v1.ChatService/SendMessage"
	ChatService_MarkRead_FullMethodName                = "/chat.v1.ChatService/MarkRead"
	ChatService_GetPresence_FullMethodName             = "/chat.v1.ChatService/GetPresence"
	ChatService_ListConversations_FullMethodName       = "/chat.v1.ChatService/ListConversations"
	ChatService_ListMessages_FullMethodName            = "/chat.v1.ChatService/ListMessages"
	ChatService_Connect_FullMethodName                 = "/chat.v1.ChatService/Connect"
)

type (
	ChatService_ListConversationsServer = grpc.ServerStreamingServer[ConversationSummary]
	ChatService_ListMessagesServer      = grpc.ServerStreamingServer[Message]
	ChatService_ConnectServer           = grpc.BidiStreamingServer[ClientFrame, ServerFrame]

	ChatService_ListConversationsClient = grpc.ServerStreamingClient[ConversationSummary]
	ChatService_ListMessagesClient      = grpc.ServerStreamingClient[Message]
	ChatService_ConnectClient           = grpc.BidiStreamingClient[ClientFrame, ServerFrame]
)

// ChatServiceServer is the server API for chat.v1.ChatService.
type ChatServiceServer interface {
	Register(context.Context, *RegisterRequest) (*AuthResponse, error)
	Login(context.Context, *LoginRequest) (*AuthResponse, error)
	CreateOrGetConversation(context.Context, *CreateOrGetConversationRequest) (*Conversation, error)
	SendMessage(context.Context, *SendMessageRequest) (*Message, error)
	MarkRead(context.Context, *MarkReadRequest) (*ReadReceipt, error)
	GetPresence(context.Context, *GetPresenceRequest) (*Presence, error)
	ListConversations(*ListConversationsRequest, ChatService_ListConversationsServer) error
	ListMessages(*ListMessagesRequest, ChatService_ListMessagesServer) error
	Connect(ChatService_ConnectServer) error
	mustEmbedUnimplementedChatServiceServer()
}

// UnimplementedChatServiceServer must be embedded by implementations.
type UnimplementedChatServiceServer struct{}

func (UnimplementedChatServiceServer) Register(context.Context, *RegisterRequest) (*AuthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Register not implemented")
}
func (UnimplementedChatServiceServer) Login(context.Context, *LoginRequest) (*AuthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Login not implemented")
}
func (UnimplementedChatServiceServer) CreateOrGetConversation(context.Context, *CreateOrGetConversationRequest) (*Conversation, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateOrGetConversation not implemented")
}
func (UnimplementedChatServiceServer) SendMessage(context.Context, *SendMessageRequest) (*Message, error) {
	return nil, status.Error(codes.Unimplemented, "method SendMessage not implemented")
}
func (UnimplementedChatServiceServer) MarkRead(context.Context, *MarkReadRequest) (*ReadReceipt, error) {
	return nil, status.Error(codes.Unimplemented, "method MarkRead not implemented")
}
func (UnimplementedChatServiceServer) GetPresence(context.Context, *GetPresenceRequest) (*Presence, error) {
	return nil, status.Error(codes.Unimplemented, "method GetPresence not implemented")
}
func (UnimplementedChatServiceServer) ListConversations(*ListConversationsRequest, ChatService_ListConversationsServer) error {
	return status.Error(codes.Unimplemented, "method ListConversations not implemented")
}
func (UnimplementedChatServiceServer) ListMessages(*ListMessagesRequest, ChatService_ListMessagesServer) error {
	return status.Error(codes.Unimplemented, "method ListMessages not implemented")
}
func (UnimplementedChatServiceServer) Connect(ChatService_ConnectServer) error {
	return status.Error(codes.Unimplemented, "method Connect not implemented")
}
func (UnimplementedChatServiceServer) mustEmbedUnimplementedChatServiceServer() {}

func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ChatService_ServiceDesc, srv)
}

// unary adapts a typed server method to a grpc.MethodHandler.
func unary[Req any, Res any](fullMethod string, call func(ChatServiceServer, context.Context, *Req) (*Res, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ChatServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ChatServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func listConversationsHandler(srv any, stream grpc.ServerStream) error {
	in := new(ListConversationsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServiceServer).ListConversations(in, &grpc.GenericServerStream[ListConversationsRequest, ConversationSummary]{ServerStream: stream})
}

func listMessagesHandler(srv any, stream grpc.ServerStream) error {
	in := new(ListMessagesRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServiceServer).ListMessages(in, &grpc.GenericServerStream[ListMessagesRequest, Message]{ServerStream: stream})
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ChatServiceServer).Connect(&grpc.GenericServerStream[ClientFrame, ServerFrame]{ServerStream: stream})
}

var ChatService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "chat.v1.ChatService",
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unary(ChatService_Register_FullMethodName, ChatServiceServer.Register)},
		{MethodName: "Login", Handler: unary(ChatService_Login_FullMethodName, ChatServiceServer.Login)},
		{MethodName: "CreateOrGetConversation", Handler: unary(ChatService_CreateOrGetConversation_FullMethodName, ChatServiceServer.CreateOrGetConversation)},
		{MethodName: "SendMessage", Handler: unary(ChatService_SendMessage_FullMethodName, ChatServiceServer.SendMessage)},
		{MethodName: "MarkRead", Handler: unary(ChatService_MarkRead_FullMethodName, ChatServiceServer.MarkRead)},
		{MethodName: "GetPresence", Handler: unary(ChatService_GetPresence_FullMethodName, ChatServiceServer.GetPresence)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ListConversations", Handler: listConversationsHandler, ServerStreams: true},
		{StreamName: "ListMessages", Handler: listMessagesHandler, ServerStreams: true},
		{StreamName: "Connect", Handler: connectHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "chat/v1/chat.proto",
}

// ChatServiceClient is the client API for chat.v1.ChatService.
type ChatServiceClient interface {
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*AuthResponse, error)
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*AuthResponse, error)
	CreateOrGetConversation(ctx context.Context, in *CreateOrGetConversationRequest, opts ...grpc.CallOption) (*Conversation, error)
	SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*Message, error)
	MarkRead(ctx context.Context, in *MarkReadRequest, opts ...grpc.CallOption) (*ReadReceipt, error)
	GetPresence(ctx context.Context, in *GetPresenceRequest, opts ...grpc.CallOption) (*Presence, error)
	ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (ChatService_ListConversationsClient, error)
	ListMessages(ctx context.Context, in *ListMessagesRequest, opts ...grpc.CallOption) (ChatService_ListMessagesClient, error)
	Connect(ctx context.Context, opts ...grpc.CallOption) (ChatService_ConnectClient, error)
}

type chatServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewChatServiceClient(cc grpc.ClientConnInterface) ChatServiceClient {
	return &chatServiceClient{cc}
}

func invoke[Res any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Res, error) {
	out := new(Res)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c.cc, ChatService_Register_FullMethodName, in, opts)
}

func (c *chatServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c.cc, ChatService_Login_FullMethodName, in, opts)
}

func (c *chatServiceClient) CreateOrGetConversation(ctx context.Context, in *CreateOrGetConversationRequest, opts ...grpc.CallOption) (*Conversation, error) {
	return invoke[Conversation](ctx, c.cc, ChatService_CreateOrGetConversation_FullMethodName, in, opts)
}

func (c *chatServiceClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*Message, error) {
	return invoke[Message](ctx, c.cc, ChatService_SendMessage_FullMethodName, in, opts)
}

func (c *chatServiceClient) MarkRead(ctx context.Context, in *MarkReadRequest, opts ...grpc.CallOption) (*ReadReceipt, error) {
	return invoke[ReadReceipt](ctx, c.cc, ChatService_MarkRead_FullMethodName, in, opts)
}

func (c *chatServiceClient) GetPresence(ctx context.Context, in *GetPresenceRequest, opts ...grpc.CallOption) (*Presence, error) {
	return invoke[Presence](ctx, c.cc, ChatService_GetPresence_FullMethodName, in, opts)
}

func (c *chatServiceClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (ChatService_ListConversationsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ChatService_ServiceDesc.Streams[0], ChatService_ListConversations_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[ListConversationsRequest, ConversationSummary]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *chatServiceClient) ListMessages(ctx context.Context, in *ListMessagesRequest, opts ...grpc.CallOption) (ChatService_ListMessagesClient, error) {
	stream, err := c.cc.NewStream(ctx, &ChatService_ServiceDesc.Streams[1], ChatService_ListMessages_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[ListMessagesRequest, Message]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *chatServiceClient) Connect(ctx context.Context, opts ...grpc.CallOption) (ChatService_ConnectClient, error) {
	stream, err := c.cc.NewStream(ctx, &ChatService_ServiceDesc.Streams[2], ChatService_Connect_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ClientFrame, ServerFrame]{ClientStream: stream}, nil
}
