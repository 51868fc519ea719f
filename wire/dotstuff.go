package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// DotStuffReader reads a POP3/SMTP DATA-style multiline block terminated by
// a line containing only "." (RFC 1939 §3, RFC 5321 §4.5.2): lines that
// begin with "." in the block have that leading dot removed, and the
// terminator line itself is consumed but not returned.
type DotStuffReader struct {
	r    *Decoder
	done bool
}

// NewDotStuffReader wraps an existing Decoder's line reader.
func NewDotStuffReader(d *Decoder) *DotStuffReader {
	return &DotStuffReader{r: d}
}

// ReadLine returns the next unstuffed line, or io.EOF once the terminator
// has been consumed.
func (r *DotStuffReader) ReadLine() (string, error) {
	if r.done {
		return "", io.EOF
	}
	line, err := r.r.ReadLine()
	if err != nil {
		return "", err
	}
	if line == "." {
		r.done = true
		return "", io.EOF
	}
	if len(line) > 0 && line[0] == '.' {
		line = line[1:]
	}
	return line, nil
}

// ReadAll reads every remaining line up to and including the terminator,
// joining them with CRLF.
func (r *DotStuffReader) ReadAll() (string, error) {
	var buf bytes.Buffer
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	return buf.String(), nil
}

// WriteDotStuffed writes data as a dot-stuffed multiline block terminated
// by "CRLF.CRLF": any line beginning with "." gets an extra "." prepended,
// and a bare trailing line with no final CRLF still gets the terminator.
func WriteDotStuffed(w io.Writer, data []byte) error {
	bw := bufio.NewWriter(w)
	reader := bufio.NewReader(bytes.NewReader(data))
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			trimmed := bytes.TrimRight([]byte(line), "\r\n")
			if len(trimmed) > 0 && trimmed[0] == '.' {
				if _, err := bw.WriteString("."); err != nil {
					return err
				}
			}
			if _, werr := bw.Write(trimmed); werr != nil {
				return werr
			}
			if _, werr := bw.WriteString("\r\n"); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("wire: dot-stuffing body: %w", err)
		}
	}
	if _, err := bw.WriteString(".\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}
