package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/shaunagostinho/sshdlink/internal/frame"
)

var codec = frame.NewCodec(nil)

func mustEncode(t *testing.T, seq, msgID uint8, typ frame.MsgType, payload []byte) []byte {
	t.Helper()
	raw, err := codec.Encode(frame.Address{ID: 0x0102}, seq, msgID, 0, typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func pipeLink(t *testing.T, cfg Config) (*Link, net.Conn) {
	t.Helper()
	client, device := net.Pipe()
	l := NewLink(newTCPStream(client, 64), codec, cfg)
	t.Cleanup(func() {
		device.Close()
		l.Close()
	})
	return l, device
}

// serve reads one request of reqLen bytes and answers with resp split into
// chunks of the given size.
func serve(conn net.Conn, reqLen int, resp []byte, chunk int, gap time.Duration) {
	if _, err := io.ReadFull(conn, make([]byte, reqLen)); err != nil {
		return
	}
	for off := 0; off < len(resp); off += chunk {
		end := min(off+chunk, len(resp))
		if _, err := conn.Write(resp[off:end]); err != nil {
			return
		}
		if gap > 0 {
			time.Sleep(gap)
		}
	}
}

func TestExchangeChunked(t *testing.T) {
	req := mustEncode(t, 0, 0x2A, frame.TypeRead, nil)
	resp := mustEncode(t, 0, 0x2A, frame.TypeRead, bytes.Repeat([]byte{'A'}, 83))

	for _, size := range []int{1, 2, 3, 9, 10, 11, 64, len(resp)} {
		t.Run(fmt.Sprintf("chunk=%d", size), func(t *testing.T) {
			l, device := pipeLink(t, Config{ReadTimeout: 2 * time.Second})
			go serve(device, len(req), resp, size, time.Millisecond)

			res, err := l.Exchange(context.Background(), req)
			if err != nil {
				t.Fatalf("Exchange: %v", err)
			}
			if res.State != Complete {
				t.Errorf("state = %s, want complete", res.State)
			}
			if !bytes.Equal(res.Frame, resp) {
				t.Errorf("frame =\n% X\nwant\n% X", res.Frame, resp)
			}
		})
	}
}

func TestExchangeResultCode(t *testing.T) {
	req := mustEncode(t, 3, 0x74, frame.TypeRead, make([]byte, 9))
	resp := mustEncode(t, 3, 0x74, frame.TypeResult, []byte{0x00, 0x0F})
	l, device := pipeLink(t, Config{})
	go serve(device, len(req), resp, len(resp), 0)

	res, err := l.Exchange(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.ErrorCode != frame.CodeIntervalNotFound {
		t.Errorf("ErrorCode = 0x%04X, want 0x000F", res.ErrorCode)
	}
}

func TestExchangeReadTimeout(t *testing.T) {
	req := mustEncode(t, 0, 0x0E, frame.TypeRead, nil)
	resp := mustEncode(t, 0, 0x0E, frame.TypeRead, make([]byte, 8))

	tests := []struct {
		name string
		send []byte
	}{
		{"no reply", nil},
		{"partial header", resp[:6]},
		{"partial body", resp[:14]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, device := pipeLink(t, Config{ReadTimeout: 50 * time.Millisecond})
			go func() {
				if _, err := io.ReadFull(device, make([]byte, len(req))); err != nil {
					return
				}
				if len(tt.send) > 0 {
					device.Write(tt.send)
				}
			}()

			res, err := l.Exchange(context.Background(), req)
			if !errors.Is(err, frame.ErrReadTimeout) {
				t.Fatalf("err = %v, want read timeout", err)
			}
			if res.State != ReadTimeout {
				t.Errorf("state = %s", res.State)
			}
			if frame.MarkerError(res.Frame) != frame.ErrReadTimeout {
				t.Errorf("frame = %q, want read timeout marker", res.Frame)
			}
		})
	}
}

func TestExchangeWriteTimeout(t *testing.T) {
	// Nobody reads the device end, so the write blocks until its deadline.
	l, _ := pipeLink(t, Config{WriteTimeout: 50 * time.Millisecond})
	res, err := l.Exchange(context.Background(), mustEncode(t, 0, 0x0E, frame.TypeRead, nil))
	if !errors.Is(err, frame.ErrWriteTimeout) {
		t.Fatalf("err = %v, want write timeout", err)
	}
	if res.State != WriteTimeout || !bytes.Equal(res.Frame, frame.WriteTimeoutMarker) {
		t.Errorf("result = %s %q", res.State, res.Frame)
	}
}

func TestExchangeCRCMismatch(t *testing.T) {
	req := mustEncode(t, 0, 0x0D, frame.TypeRead, nil)
	resp := mustEncode(t, 0, 0x0D, frame.TypeRead, []byte{1})
	resp[len(resp)-1] ^= 0xFF
	l, device := pipeLink(t, Config{})
	go serve(device, len(req), resp, len(resp), 0)

	if _, err := l.Exchange(context.Background(), req); !errors.Is(err, frame.ErrCRCMismatch) {
		t.Fatalf("err = %v, want CRC mismatch", err)
	}
}

func TestSendDiscardsStaleInput(t *testing.T) {
	req := mustEncode(t, 0, 0x0D, frame.TypeRead, nil)
	resp := mustEncode(t, 0, 0x0D, frame.TypeRead, []byte{1})
	l, device := pipeLink(t, Config{})

	device.Write([]byte("stale"))
	deadline := time.Now().Add(time.Second)
	for l.stream.Buffered() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	go serve(device, len(req), resp, len(resp), 0)
	res, err := l.Exchange(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Frame, resp) {
		t.Errorf("frame = % X", res.Frame)
	}
}

func TestTransactionMultipleRecords(t *testing.T) {
	req := mustEncode(t, 1, 0x74, frame.TypeRead, make([]byte, 9))
	var all []byte
	var records [][]byte
	for i := 0; i < 3; i++ {
		r := mustEncode(t, 1, 0x74, frame.TypeRead, bytes.Repeat([]byte{byte(i)}, 20+i))
		records = append(records, r)
		all = append(all, r...)
	}
	l, device := pipeLink(t, Config{})
	go serve(device, len(req), all, 7, 0)

	err := l.Transaction(context.Background(), func(tx *Tx) error {
		if _, err := tx.Send(req); err != nil {
			return err
		}
		for i, want := range records {
			res, err := tx.Receive()
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			if !bytes.Equal(res.Frame, want) {
				return fmt.Errorf("record %d = % X", i, res.Frame)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentExchangesSerialized(t *testing.T) {
	l, device := pipeLink(t, Config{})
	const n = 4

	// Echo each request's sequence number back in its response.
	go func() {
		for i := 0; i < n; i++ {
			req := make([]byte, frame.MinSize)
			if _, err := io.ReadFull(device, req); err != nil {
				return
			}
			resp, _ := codec.Encode(frame.Address{}, req[8], 0x0D, 0, frame.TypeRead, []byte{req[8]})
			for _, b := range resp {
				if _, err := device.Write([]byte{b}); err != nil {
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(seq uint8) {
			defer wg.Done()
			req, _ := codec.Encode(frame.Address{}, seq, 0x0D, 0, frame.TypeRead, nil)
			res, err := l.Exchange(context.Background(), req)
			if err != nil {
				errs <- err
				return
			}
			if res.Frame[8] != seq || res.Frame[frame.PayloadIndex] != seq {
				errs <- fmt.Errorf("request %d got response for %d", seq, res.Frame[8])
			}
		}(uint8(i + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestExchangeContextCanceled(t *testing.T) {
	req := mustEncode(t, 0, 0x0E, frame.TypeRead, nil)
	l, device := pipeLink(t, Config{ReadTimeout: 5 * time.Second})
	go io.ReadFull(device, make([]byte, len(req)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := l.Exchange(ctx, req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not interrupt the read wait")
	}
}

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	req := mustEncode(t, 0, 0x0E, frame.TypeRead, nil)
	resp := mustEncode(t, 0, 0x0E, frame.TypeRead, make([]byte, frame.DateTimeSize))
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn, len(req), resp, 4, 0)
		// Hold the connection until the client hangs up.
		io.Copy(io.Discard, conn)
	}()

	s, err := DialTCP(context.Background(), ln.Addr().String(), WithDialTimeout(time.Second), WithBufferSize(16))
	if err != nil {
		t.Fatal(err)
	}
	l := NewLink(s, codec, Config{ReadTimeout: 2 * time.Second})
	defer l.Close()

	res, err := l.Exchange(context.Background(), req)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !bytes.Equal(res.Frame, resp) {
		t.Errorf("frame = % X, want % X", res.Frame, resp)
	}
}

func TestDialTCPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := DialTCP(context.Background(), addr, WithDialTimeout(time.Second)); err == nil {
		t.Fatal("dial to closed port succeeded")
	}
}

// readerStream receives from r and swallows writes.
type readerStream struct{ *pump }

func (readerStream) Write([]byte, time.Duration) error { return nil }
func (readerStream) Close() error                      { return nil }

func TestExchangeConnectionLost(t *testing.T) {
	req := mustEncode(t, 0, 0x0E, frame.TypeRead, nil)
	resp := mustEncode(t, 0, 0x0E, frame.TypeRead, make([]byte, 8))

	for _, n := range []int{0, 6, 14} {
		t.Run(fmt.Sprintf("eof after %d bytes", n), func(t *testing.T) {
			l := NewLink(readerStream{newPump(bytes.NewReader(resp[:n]), 64)}, codec, Config{ReadTimeout: 2 * time.Second})

			start := time.Now()
			res, err := l.Exchange(context.Background(), req)
			if !errors.Is(err, frame.ErrConnectionLost) || !errors.Is(err, io.EOF) {
				t.Fatalf("err = %v, want connection lost", err)
			}
			if errors.Is(err, frame.ErrReadTimeout) {
				t.Errorf("err = %v, reported as a timeout", err)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("took %v to notice the closed stream", elapsed)
			}
			if res.State != AwaitHeader && res.State != AwaitBody {
				t.Errorf("state = %s", res.State)
			}
		})
	}
}

func TestReceiveDrainsBeforeConnectionLost(t *testing.T) {
	resp := mustEncode(t, 0, 0x0E, frame.TypeRead, make([]byte, 8))
	s := readerStream{newPump(bytes.NewReader(resp), 64)}
	<-s.done

	// Send discards stale input, so read straight from the held link.
	l := NewLink(s, codec, Config{ReadTimeout: time.Second})
	err := l.Transaction(context.Background(), func(tx *Tx) error {
		res, err := tx.Receive()
		if err != nil {
			return err
		}
		if !bytes.Equal(res.Frame, resp) {
			return fmt.Errorf("frame = % X", res.Frame)
		}
		_, err = tx.Receive()
		if !errors.Is(err, frame.ErrConnectionLost) {
			return fmt.Errorf("second receive err = %v, want connection lost", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
