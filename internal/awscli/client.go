// Package awscli drives the external aws executable. The remote store is
// only ever observed through that process's combined output stream and its
// exit status; no S3 wire protocol is spoken here.
package awscli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	headTimeout = 30 * time.Second
	listTimeout = 30 * time.Second
	authTimeout = 10 * time.Second
)

// LineFunc receives one line of the tool's combined stdout/stderr stream.
type LineFunc func(line string)

// Client invokes the aws CLI with a fixed authentication profile.
type Client struct {
	bin     string
	profile string
	log     *zap.Logger
}

func New(profile string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{bin: "aws", profile: profile, log: log}
}

// Copy runs `aws s3 cp src dst`, streaming every output line to onLine, and
// returns an error on spawn failure or nonzero exit.
func (c *Client) Copy(ctx context.Context, src, dst string, onLine LineFunc) error {
	return c.run(ctx, c.s3Args("cp", src, dst), onLine)
}

// CopyCommand renders the cp invocation for display (dry runs).
func (c *Client) CopyCommand(src, dst string) string {
	return c.bin + " " + strings.Join(c.s3Args("cp", src, dst), " ")
}

// RemoteObject is one entry of an `aws s3 ls` listing.
type RemoteObject struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// HeadObjectSize returns the size in bytes of the object at uri. A missing
// object or a nonzero exit is an error; callers treat that as verification
// failure.
func (c *Client) HeadObjectSize(ctx context.Context, uri string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	var out bytes.Buffer
	if err := c.run(ctx, c.s3Args("ls", uri), func(line string) {
		out.WriteString(line)
		out.WriteByte('\n')
	}); err != nil {
		return 0, err
	}

	want := uri[strings.LastIndex(uri, "/")+1:]
	for _, line := range strings.Split(out.String(), "\n") {
		obj, ok := parseListLine(line)
		if !ok {
			continue
		}
		if obj.Key == want || strings.HasSuffix(obj.Key, "/"+want) {
			return obj.Size, nil
		}
	}
	return 0, fmt.Errorf("object not found: %s", uri)
}

// ListObjects lists every object under uri recursively.
func (c *Client) ListObjects(ctx context.Context, uri string) ([]RemoteObject, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var objects []RemoteObject
	err := c.run(ctx, append(c.s3Args("ls", uri), "--recursive"), func(line string) {
		if obj, ok := parseListLine(line); ok {
			objects = append(objects, obj)
		}
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// CheckAuth verifies that the profile currently holds valid credentials.
func (c *Client) CheckAuth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	args := []string{"sts", "get-caller-identity"}
	if c.profile != "" {
		args = append(args, "--profile", c.profile)
	}
	if err := c.run(ctx, args, nil); err != nil {
		return fmt.Errorf("not authenticated (profile %q): %w", c.profile, err)
	}
	return nil
}

// SSOLogin runs the interactive `aws sso login` flow with inherited stdio.
func (c *Client) SSOLogin(ctx context.Context) error {
	args := []string{"sso", "login"}
	if c.profile != "" {
		args = append(args, "--profile", c.profile)
	}
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sso login failed: %w", err)
	}
	return nil
}

func (c *Client) s3Args(verb string, rest ...string) []string {
	args := append([]string{"s3", verb}, rest...)
	if c.profile != "" {
		args = append(args, "--profile", c.profile)
	}
	return args
}

// run spawns the CLI with stdout and stderr merged into one pipe, feeds each
// line to onLine until EOF, then waits for the exit status. The stream is
// always fully drained before run returns.
func (c *Client) run(ctx context.Context, args []string, onLine LineFunc) error {
	cmd := exec.CommandContext(ctx, c.bin, args...)

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	c.log.Debug("Running command", zap.String("bin", c.bin), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("spawn %s: %w", c.bin, err)
	}
	pw.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanCLILines)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	scanErr := scanner.Err()
	pr.Close()

	if err := cmd.Wait(); err != nil {
		head := args
		if len(head) > 2 {
			head = head[:2]
		}
		return fmt.Errorf("%s %s: %w", c.bin, strings.Join(head, " "), err)
	}
	if scanErr != nil {
		// A zero exit with a truncated stream is not a success: callers
		// parsing listings would act on partial output.
		return fmt.Errorf("read %s output: %w", c.bin, scanErr)
	}
	return nil
}

// scanCLILines splits on \n or \r: the CLI redraws its progress line with
// bare carriage returns, and those updates must surface as lines too.
func scanCLILines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		// Swallow a \n immediately following \r.
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseListLine decodes one `aws s3 ls` output line:
//
//	2024-01-15 10:30:45   12345678 path/to/file.tar.gz
//
// Directory markers ("PRE ...") and malformed lines are skipped.
func parseListLine(line string) (RemoteObject, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] == "PRE" {
		return RemoteObject{}, false
	}

	modified, err := time.Parse("2006-01-02 15:04:05", fields[0]+" "+fields[1])
	if err != nil {
		return RemoteObject{}, false
	}
	var size int64
	if _, err := fmt.Sscanf(fields[2], "%d", &size); err != nil {
		return RemoteObject{}, false
	}

	// The key may itself contain spaces; walk past the date, time, and size
	// columns positionally and take the remainder. Searching the whole line
	// for the size string would mis-anchor when its digits also occur in the
	// timestamp.
	rest := line
	for i := 0; i < 3; i++ {
		rest = strings.TrimLeft(rest, " \t")
		cut := strings.IndexAny(rest, " \t")
		if cut < 0 {
			return RemoteObject{}, false
		}
		rest = rest[cut:]
	}
	key := strings.TrimLeft(rest, " \t")
	if key == "" {
		return RemoteObject{}, false
	}
	return RemoteObject{Key: key, Size: size, LastModified: modified}, true
}
