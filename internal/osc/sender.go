package osc

import (
	"fmt"
	"net"
)

// Sender delivers chatbox text and typing-indicator state to a VRChat-style
// OSC endpoint.
type Sender interface {
	SendChatbox(text string) error
	SendTyping(isTyping bool) error
	Close() error
}

// UDPSender implements Sender over connection-less UDP, matching VRChat's
// own OSC chatbox contract. No OSC client library appears anywhere in the
// example corpus, so this talks the wire format directly via encode.go.
type UDPSender struct {
	conn            *net.UDPConn
	chatboxAddress  string
	typingAddress   string
	chatboxSend     bool
	chatboxClear    bool
}

// Config configures a UDPSender.
type Config struct {
	Host           string
	Port           int
	ChatboxAddress string
	TypingAddress  string
	ChatboxSend    bool
	ChatboxClear   bool
}

// NewUDPSender resolves host:port and opens the UDP socket. Socket creation
// failure is a constructor-time error, per spec.
func NewUDPSender(cfg Config) (*UDPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("osc: host must be non-empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("osc: port must be in 1..65535")
	}
	if cfg.ChatboxAddress == "" {
		cfg.ChatboxAddress = "/chatbox/input"
	}
	if cfg.TypingAddress == "" {
		cfg.TypingAddress = "/chatbox/typing"
	}
	if cfg.ChatboxAddress[0] != '/' {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, cfg.ChatboxAddress)
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("osc: resolve addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("osc: dial udp: %w", err)
	}

	return &UDPSender{
		conn:           conn,
		chatboxAddress: cfg.ChatboxAddress,
		typingAddress:  cfg.TypingAddress,
		chatboxSend:    cfg.ChatboxSend,
		chatboxClear:   cfg.ChatboxClear,
	}, nil
}

func (s *UDPSender) SendChatbox(text string) error {
	packet, err := EncodeMessage(s.chatboxAddress, []Arg{text, s.chatboxSend, s.chatboxClear})
	if err != nil {
		return err
	}
	_, err = s.conn.Write(packet)
	return err
}

func (s *UDPSender) SendTyping(isTyping bool) error {
	packet, err := EncodeMessage(s.typingAddress, []Arg{isTyping})
	if err != nil {
		return err
	}
	_, err = s.conn.Write(packet)
	return err
}

func (s *UDPSender) Close() error {
	return s.conn.Close()
}
