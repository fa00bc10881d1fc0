package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"gopkg.in/resty.v1"

	"github.com/throw-if-null/easel/internal/api"
	"github.com/throw-if-null/easel/internal/version"
)

func main() {
	base := os.Getenv("EASEL_ADDR")
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", api.DefaultHost, api.DefaultPort)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	os.Exit(run(os.Args[1:], client, base, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, hc *http.Client, baseURL string, stdout, stderr io.Writer) int {
	cli := &cli{
		rc:  resty.NewWithClient(hc).SetHostURL(strings.TrimRight(baseURL, "/")),
		out: stdout,
	}
	root := cli.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		var ue usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}

type usageError struct{ error }

func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

type cli struct {
	rc       *resty.Client
	out      io.Writer
	asJSON   bool
	interval time.Duration
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "easel",
		Short:         "Submit and inspect easeld painting jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print raw JSON")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	root.AddCommand(c.imagineCmd(), c.actionCmd(), c.jobsCmd(), c.jobCmd(), c.cancelCmd(), c.versionCmd())
	return root
}

func (c *cli) imagineCmd() *cobra.Command {
	var req api.ImagineJobRequest
	var wait bool
	cmd := &cobra.Command{
		Use:   "imagine --user <id> <prompt...>",
		Short: "Start a Midjourney imagine job",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = strings.TrimSpace(strings.Join(args, " "))
			if req.UserID == "" || req.Prompt == "" {
				return usageError{errors.New("imagine needs --user and a prompt")}
			}
			return c.submit("/v1/imagine", req, wait)
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "user id owning the job")
	cmd.Flags().StringVar(&req.Bot, "bot", "", "MID_JOURNEY or NIJI_JOURNEY")
	c.waitFlags(cmd, &wait)
	return cmd
}

func (c *cli) actionCmd() *cobra.Command {
	var req api.ActionJobRequest
	var wait bool
	cmd := &cobra.Command{
		Use:   "action --user <id> <upscale|variation|reroll> [position]",
		Short: "Upscale, vary or reroll a finished grid",
		Args:  usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.UserID == "" {
				return usageError{errors.New("action needs --user")}
			}
			req.Action = strings.ToUpper(args[0])
			if len(args) == 2 {
				req.Position = args[1]
			}
			return c.submit("/v1/actions", req, wait)
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "user id owning the job")
	cmd.Flags().StringVar(&req.TaskID, "task", "", "source task id (defaults to the user's last imagine)")
	c.waitFlags(cmd, &wait)
	return cmd
}

func (c *cli) waitFlags(cmd *cobra.Command, wait *bool) {
	cmd.Flags().BoolVar(wait, "wait", false, "block until the job finishes")
	cmd.Flags().DurationVar(&c.interval, "interval", 2*time.Second, "poll interval with --wait")
}

func (c *cli) jobsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs, newest first",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := c.rc.R()
			if limit > 0 {
				r.SetQueryParam("limit", strconv.Itoa(limit))
			}
			body, err := c.do(r, http.MethodGet, "/v1/jobs")
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.raw(body)
			}
			for _, j := range gjson.ParseBytes(body).Array() {
				_, _ = fmt.Fprintf(c.out, "%s\t%s\t%s\t%s\n",
					j.Get("job_id").String(), j.Get("kind").String(), j.Get("status").String(), j.Get("created_at").String())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs")
	return cmd
}

func (c *cli) jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show one job",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := c.do(c.rc.R(), http.MethodGet, "/v1/jobs/"+args[0])
			if err != nil {
				return err
			}
			return c.printJob(body)
		},
	}
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Abandon a running job",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := c.do(c.rc.R(), http.MethodPost, "/v1/jobs/"+args[0]+"/cancel")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.out, "%s: %s\n", args[0], strings.TrimSpace(string(body)))
			return err
		},
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(c.out, "easel %s (%s)\n", version.Version, version.Commit)
		},
	}
}

func (c *cli) submit(path string, req any, wait bool) error {
	body, err := c.do(c.rc.R().SetBody(req), http.MethodPost, path)
	if err != nil {
		return err
	}
	if !wait {
		return c.printJob(body)
	}
	id := gjson.GetBytes(body, "job_id").String()
	for !api.JobStatus(gjson.GetBytes(body, "status").String()).Terminal() {
		time.Sleep(c.interval)
		if body, err = c.do(c.rc.R(), http.MethodGet, "/v1/jobs/"+id); err != nil {
			return err
		}
	}
	if err := c.printJob(body); err != nil {
		return err
	}
	if st := gjson.GetBytes(body, "status").String(); st != string(api.JobSucceeded) {
		return fmt.Errorf("job %s ended %s", id, st)
	}
	return nil
}

func (c *cli) do(r *resty.Request, method, path string) ([]byte, error) {
	resp, err := r.Execute(method, path)
	if err != nil {
		return nil, err
	}
	body := resp.Body()
	if resp.StatusCode() >= 400 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("request failed: %s: %s", resp.Status(), msg)
	}
	return body, nil
}

func (c *cli) raw(body []byte) error {
	_, err := fmt.Fprintln(c.out, strings.TrimSpace(string(body)))
	return err
}

func (c *cli) printJob(body []byte) error {
	if c.asJSON {
		return c.raw(body)
	}
	var j api.Job
	if err := json.Unmarshal(body, &j); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "job %s (%s) %s\n", j.JobID, j.Kind, j.Status)
	if j.Prompt != "" {
		_, _ = fmt.Fprintf(c.out, "  prompt: %s\n", j.Prompt)
	}
	if j.BackendTaskID != "" {
		_, _ = fmt.Fprintf(c.out, "  task: %s\n", j.BackendTaskID)
	}
	if j.ImageURL != "" {
		_, _ = fmt.Fprintf(c.out, "  image: %s\n", j.ImageURL)
	}
	if j.Error != "" {
		_, _ = fmt.Fprintf(c.out, "  error: %s\n", j.Error)
	}
	return nil
}
