package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // registers the JPEG decoder for DecodeConfig
	"net"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"liveview/internal/dto"
	"liveview/internal/logger"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

// UDPOpener binds a UDP port that network cameras stream JPEG frames to, split across
// datagrams: a frame starts with a datagram carrying the JPEG SOI marker and ends with
// one carrying the EOI marker.
type UDPOpener struct {
	Port   int
	Logger *logger.Logger
}

// Supported is always true: UDP capture has no platform requirements.
func (o *UDPOpener) Supported() bool { return true }

// Open binds the port. Constraints.Device, when set, overrides the listen address.
func (o *UDPOpener) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := c.Device
	if addr == "" {
		addr = fmt.Sprintf(":%d", o.Port)
	}
	return ListenUDP(addr, o.Logger)
}

// UDPStream reassembles JPEG frames from datagrams and publishes complete, decodable
// ones.
type UDPStream struct {
	*Latest
	conn   *net.UDPConn
	logger *logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// ListenUDP binds addr and starts receiving frames.
func ListenUDP(addr string, logger *logger.Logger) (*UDPStream, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceError, "resolve %s: %v", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, Classify(errors.Wrapf(err, "listen on %s", addr))
	}

	s := &UDPStream{
		Latest: NewLatest(),
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.receive()
	logger.Info("UDP capture listening on %s", conn.LocalAddr())
	return s, nil
}

// Addr returns the bound address.
func (s *UDPStream) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Close unbinds the port and waits for the receiver to exit.
func (s *UDPStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		<-s.done
	})
	return err
}

func (s *UDPStream) receive() {
	defer close(s.done)

	buffer := make([]byte, maxDatagram)
	senders := make(map[string]*bytes.Buffer)

	for {
		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		sender := strings.Split(remoteAddr.String(), ":")[0]
		frameBuf, ok := senders[sender]
		if !ok {
			frameBuf = new(bytes.Buffer)
			senders[sender] = frameBuf
		}

		data := buffer[:n]
		if bytes.HasPrefix(data, jpegHeader) {
			frameBuf.Reset()
		} else if frameBuf.Len() == 0 {
			// Tail of a frame whose start we missed.
			continue
		}
		frameBuf.Write(data)

		if bytes.HasSuffix(data, jpegFooter) {
			full := make([]byte, frameBuf.Len())
			copy(full, frameBuf.Bytes())
			frameBuf.Reset()
			s.publish(full, sender)
		}
	}
}

func (s *UDPStream) publish(data []byte, sender string) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		s.logger.Debug("Dropping undecodable frame from %s: %v", sender, err)
		return
	}
	s.Publish(dto.Frame{Data: data, Width: cfg.Width, Height: cfg.Height})
}
