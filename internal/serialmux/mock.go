package serialmux

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// TestableSerialPort implements SerialPorter with configurable behaviour for
// testing. Inbound bytes are injected with Feed and surface through Read in
// exactly the chunks fed, so framing across partial deliveries can be
// exercised; outbound writes are captured for inspection.
type TestableSerialPort struct {
	mu sync.Mutex

	reader *io.PipeReader
	writer *io.PipeWriter

	// writeBuffer captures data written to the port
	writeBuffer bytes.Buffer

	// WriteError is returned by Write calls when set
	WriteError error

	// ShortWrite makes Write report one byte fewer than requested
	ShortWrite bool

	closed bool
}

// NewTestableSerialPort returns a port with an open inbound pipe and an empty
// write capture.
func NewTestableSerialPort() *TestableSerialPort {
	r, w := io.Pipe()
	return &TestableSerialPort{reader: r, writer: w}
}

// Feed injects inbound bytes as a single delivery. It blocks until the
// monitor loop has consumed them.
func (p *TestableSerialPort) Feed(data []byte) {
	p.writer.Write(data)
}

// FinishFeeding closes the inbound side, unblocking any pending Read with
// EOF.
func (p *TestableSerialPort) FinishFeeding() {
	p.writer.Close()
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	return p.reader.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteError != nil {
		return 0, p.WriteError
	}
	n, err := p.writeBuffer.Write(b)
	if p.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Writes returns the commands written so far, one entry per LF-terminated
// line.
func (p *TestableSerialPort) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw := strings.TrimSuffix(p.writeBuffer.String(), "\n")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.reader.Close()
	return p.writer.Close()
}
