// Command seancectl is the operator's console for a running engine: list
// live sessions, dump a session snapshot, read engine stats, or force-close
// a session. It talks to the same HTTP API as clients, with an operator
// identity token.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"seance/domain"
)

type cli struct {
	base   string
	token  string
	client *http.Client
}

func main() {
	base := flag.String("addr", "http://localhost:8080", "Engine base URL")
	token := flag.String("token", os.Getenv("SEANCE_TOKEN"), "Identity token (defaults to SEANCE_TOKEN)")
	flag.Parse()

	if *token == "" {
		log.Fatal("an identity token is required (-token or SEANCE_TOKEN)")
	}
	c := &cli{base: *base, token: *token, client: &http.Client{Timeout: 10 * time.Second}}

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	var err error
	switch args[0] {
	case "list":
		err = c.list()
	case "snapshot":
		if len(args) < 2 {
			usage()
		}
		err = c.snapshot(args[1])
	case "close":
		if len(args) < 2 {
			usage()
		}
		err = c.close(args[1])
	case "stats":
		err = c.stats()
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: seancectl [-addr URL] [-token TOKEN] <command>

commands:
  list                 list live sessions
  snapshot <id|code>   dump the shared state of a session
  close <id>           force-close a session
  stats                engine counters`)
	os.Exit(2)
}

func (c *cli) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *cli) post(path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *cli) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *cli) list() error {
	var payload struct {
		Sessions []domain.Summary `json:"sessions"`
	}
	if err := c.get("/v1/sessions", &payload); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Title", "Type", "Code", "Status", "Seats", "Private", "Created"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, s := range payload.Sessions {
		status := s.Status
		if status == "active" {
			status = color.Green.Render(status)
		}
		private := ""
		if s.IsPrivate {
			private = color.Yellow.Render("yes")
		}
		table.Append([]string{
			shortID(string(s.ID)),
			s.Title,
			string(s.Type),
			s.RoomCode,
			status,
			fmt.Sprintf("%d/%d", s.ParticipantCount, s.MaxParticipants),
			private,
			s.CreatedAt.Format("15:04:05"),
		})
	}
	table.Render()
	fmt.Printf("\n%d session(s)\n", len(payload.Sessions))
	return nil
}

func (c *cli) snapshot(identifier string) error {
	var snapshot domain.Snapshot
	if err := c.get("/v1/sessions/"+identifier+"/snapshot", &snapshot); err != nil {
		return err
	}

	color.Bold.Printf("%s  [%s]  seq=%d\n\n", snapshot.Title, snapshot.ID, snapshot.Sequence)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Seq", "By", "At", "Value"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, entry := range snapshot.SharedState {
		value := string(entry.Value)
		if len(value) > 60 {
			value = value[:60] + "..."
		}
		table.Append([]string{
			entry.Key,
			fmt.Sprintf("%d", entry.SequenceNumber),
			shortID(entry.UpdatedBy),
			entry.UpdatedAt.Format("15:04:05"),
			value,
		})
	}
	table.Render()
	return nil
}

func (c *cli) close(id string) error {
	body := map[string]string{"reason": "closed by operator"}
	if err := c.post("/v1/sessions/"+id+"/close", body, nil); err != nil {
		return err
	}
	fmt.Println(color.Green.Render("closed"))
	return nil
}

func (c *cli) stats() error {
	var stats map[string]any
	if err := c.get("/v1/stats", &stats); err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Counter", "Value"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for k, v := range stats {
		table.Append([]string{k, fmt.Sprintf("%v", v)})
	}
	table.Render()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
