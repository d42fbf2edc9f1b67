package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/db/queue"
	"github.com/erain9/orderdesk/pkg/messaging"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	serverAddr = flag.String("addr", "localhost:8080", "The server address in the format host:port")
	brokers    = flag.String("brokers", "localhost:9092", "Comma-separated Kafka brokers for the matches command")
	topic      = flag.String("topic", queue.DefaultTopic, "Kafka topic for the matches command")
)

var (
	cyan    = color.New(color.FgCyan).SprintfFunc()
	red     = color.New(color.FgRed).SprintfFunc()
	green   = color.New(color.FgGreen).SprintfFunc()
	yellow  = color.New(color.FgYellow).SprintfFunc()
	magenta = color.New(color.FgMagenta).SprintfFunc()
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &client{base: "http://" + *serverAddr, http: &http.Client{Timeout: 10 * time.Second}}

	var err error
	switch args[0] {
	case "follow":
		err = follow(ctx, "ws://"+*serverAddr+"/ws", os.Stdout)
	case "state":
		symbol := ""
		if len(args) > 1 {
			symbol = args[1]
		}
		err = c.state(ctx, symbol, os.Stdout)
	case "candidates":
		if len(args) < 2 {
			fmt.Println("Usage: candidates <orderId>")
			os.Exit(1)
		}
		err = c.candidates(ctx, args[1], os.Stdout)
	case "confirm":
		if len(args) < 3 {
			fmt.Println("Usage: confirm <referenceOrderId> <counterOrderId> [adopt_buy_values|adopt_sell_values]")
			os.Exit(1)
		}
		adjustment := ""
		if len(args) > 3 {
			adjustment = args[3]
		}
		err = c.confirm(ctx, args[1], args[2], adjustment, os.Stdout)
	case "cancel":
		if len(args) < 2 {
			fmt.Println("Usage: cancel <orderId>")
			os.Exit(1)
		}
		err = c.cancel(ctx, args[1], os.Stdout)
	case "matches":
		err = followMatches(strings.Split(*brokers, ","), *topic, os.Stdout)
	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Command failed")
	}
}

// client is a thin wrapper over the operator HTTP API
type client struct {
	base string
	http *http.Client
}

type apiError struct {
	Status  int
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %d %s: %s", method, path, apiErr.Status, apiErr.Error, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) state(ctx context.Context, symbol string, w io.Writer) error {
	q := url.Values{"filter": {"pending"}}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	var view core.View
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders?"+q.Encode(), nil, &view); err != nil {
		return err
	}
	return printBook(w, view)
}

// candidateView mirrors the candidate encoding of the API
type candidateView struct {
	Order           *core.Order `json:"order"`
	MatchPercentage json.Number `json:"matchPercentage"`
	PriceDiff       json.Number `json:"priceDiff"`
	QtyDiff         json.Number `json:"qtyDiff"`
	Perfect         bool        `json:"perfect"`
}

type candidatesView struct {
	Reference  *core.Order     `json:"reference"`
	Candidates []candidateView `json:"candidates"`
}

func (c *client) candidates(ctx context.Context, orderID string, w io.Writer) error {
	var resp candidatesView
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(orderID)+"/candidates", nil, &resp); err != nil {
		return err
	}
	return printCandidates(w, resp)
}

func (c *client) confirm(ctx context.Context, referenceID, counterID, adjustment string, w io.Writer) error {
	req := map[string]string{
		"referenceOrderId": referenceID,
		"counterOrderId":   counterID,
		"adjustment":       adjustment,
	}
	var result struct {
		Reference  *core.Order `json:"reference"`
		Counter    *core.Order `json:"counter"`
		Adjustment string      `json:"adjustment"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/matches", req, &result); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s <-> %s (%s) at %s x %s\n",
		green("MATCHED"),
		result.Reference.OrderID(),
		result.Counter.OrderID(),
		result.Adjustment,
		result.Reference.Price(),
		result.Reference.Qty())
	return nil
}

func (c *client) cancel(ctx context.Context, orderID string, w io.Writer) error {
	var order core.Order
	if err := c.do(ctx, http.MethodDelete, "/api/v1/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s is %s\n", red("CANCEL"), order.OrderID(), order.Status())
	return nil
}

// follow prints every store change until ctx is done or the server closes
// the stream.
func follow(ctx context.Context, wsURL string, w io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log.Info().Str("url", wsURL).Msg("Following order changes")
	for {
		var change core.Change
		if err := conn.ReadJSON(&change); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		printChange(w, change)
	}
}

func formatKind(kind core.ChangeKind) string {
	label := strings.ToUpper(string(kind))
	switch kind {
	case core.ChangeCreated:
		return green("%-9s", label)
	case core.ChangeCancelled:
		return red("%-9s", label)
	case core.ChangeFulfilled:
		return cyan("%-9s", label)
	case core.ChangeUpdated:
		return yellow("%-9s", label)
	default:
		return magenta("%-9s", label)
	}
}

func printChange(w io.Writer, change core.Change) {
	if change.Order == nil {
		fmt.Fprintf(w, "%s\n", formatKind(change.Kind))
		return
	}
	o := change.Order
	fmt.Fprintf(w, "%s %-10s %-4s %s x %s  %s  [%s]\n",
		formatKind(change.Kind),
		o.Symbol(),
		o.Side(),
		o.Price(),
		o.Qty(),
		o.OrderID(),
		o.Status())
}

func printBook(w io.Writer, view core.View) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', tabwriter.AlignRight)

	fmt.Fprintf(tw, "%15s|%15s|%15s|%20s|%s\n",
		cyan("Price"),
		cyan("Quantity"),
		cyan("Total"),
		cyan("Order"),
		cyan("Side"))
	separator := func() {
		fmt.Fprintf(tw, "%15s|%15s|%15s|%20s|%s\n",
			"---------------",
			"---------------",
			"---------------",
			"--------------------",
			"----")
	}
	separator()

	for _, o := range view.SellOrders {
		fmt.Fprintf(tw, "%15s|%15s|%15s|%20s|%s\n", o.Price(), o.Qty(), o.Total(), o.OrderID(), red("SELL"))
	}
	separator()
	for _, o := range view.BuyOrders {
		fmt.Fprintf(tw, "%15s|%15s|%15s|%20s|%s\n", o.Price(), o.Qty(), o.Total(), o.OrderID(), green("BUY"))
	}
	return tw.Flush()
}

func printCandidates(w io.Writer, resp candidatesView) error {
	ref := resp.Reference
	fmt.Fprintf(w, "Reference %s: %s %s %s x %s\n", ref.OrderID(), ref.Symbol(), ref.Side(), ref.Price(), ref.Qty())
	if len(resp.Candidates) == 0 {
		fmt.Fprintln(w, yellow("No candidates above the match threshold"))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		cyan("Order"), cyan("Match %"), cyan("Price"), cyan("Qty"), cyan("Price diff"), cyan("Qty diff"))
	for _, c := range resp.Candidates {
		pct := yellow("%s", c.MatchPercentage)
		if c.Perfect {
			pct = green("%s", c.MatchPercentage)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Order.OrderID(), pct, c.Order.Price(), c.Order.Qty(), c.PriceDiff, c.QtyDiff)
	}
	return tw.Flush()
}

// followMatches prints settled matches from the match topic
func followMatches(brokers []string, topic string, w io.Writer) error {
	consumer, err := queue.NewQueueMessageConsumer(brokers, topic)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = consumer.Close()
	}()

	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Following settled matches")
	return consumer.ConsumeMatchMessages(func(msg *messaging.MatchMessage) error {
		printMatch(w, msg)
		return nil
	})
}

func printMatch(w io.Writer, msg *messaging.MatchMessage) {
	fmt.Fprintf(w, "%s %s %s %s <-> %s  %s x %s = %s  (%s%%, %s)\n",
		msg.ConfirmedAt.Format(time.RFC3339),
		cyan("MATCH"),
		msg.Symbol,
		msg.ReferenceOrderID,
		msg.CounterOrderID,
		msg.Price,
		msg.Qty,
		msg.Total,
		msg.MatchPercentage,
		msg.Adjustment)
}

func printUsage() {
	fmt.Println("Usage: client [--addr=host:port] <command> [args]")
	fmt.Println("  follow                                   stream order changes")
	fmt.Println("  state [symbol]                           print pending orders")
	fmt.Println("  candidates <orderId>                     rank match candidates")
	fmt.Println("  confirm <ref> <counter> [adjustment]     settle a match")
	fmt.Println("  cancel <orderId>                         cancel an order")
	fmt.Println("  matches [--brokers=...] [--topic=...]    follow settled matches from Kafka")
	fmt.Println("\nExamples:")
	fmt.Println("  client candidates 3f1c")
	fmt.Println("  client confirm 3f1c 9a7e adopt_sell_values")
}
