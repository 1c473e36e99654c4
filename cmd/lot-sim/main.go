package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type entryRequest struct {
	Plate       string `json:"plate"`
	Category    string `json:"category"`
	Size        string `json:"size,omitempty"`
	AgreedPrice *int64 `json:"agreed_price,omitempty"`
}

type receiptResponse struct {
	ID           string `json:"id"`
	Plate        string `json:"plate"`
	StayDuration string `json:"stay_duration"`
	FinalCost    int64  `json:"final_cost"`
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Parking server base URL")
	operator := flag.String("operator", "lot-sim", "Operator id sent as X-Operator-ID")
	categories := flag.String("categories", "car,bike,car-12h", "Comma separated categories to simulate")
	lotSize := flag.Int("lot-size", 10, "Maximum number of vehicles parked at once")
	interval := flag.Duration("interval", 2*time.Second, "Interval between simulated gate events")
	exitChance := flag.Float64("exit-chance", 0.4, "Probability that a gate event is an exit")
	brokerAddr := flag.String("broker", "", "Optional MQTT broker to watch change events on, e.g. tcp://localhost:1883")
	topicPrefix := flag.String("topic-prefix", "parking", "MQTT topic prefix used by the server")

	flag.Parse()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	client := &http.Client{Timeout: 5 * time.Second}
	cats := splitCSV(*categories)
	if len(cats) == 0 {
		log.Fatal("at least one category is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *brokerAddr != "" {
		watcher, err := watchEvents(*brokerAddr, *topicPrefix)
		if err != nil {
			log.Fatalf("failed to watch events: %v", err)
		}
		defer watcher.Disconnect(250)
	}

	sim := &simulator{
		client:   client,
		baseURL:  strings.TrimSuffix(*serverURL, "/"),
		operator: *operator,
		parked:   make(map[string]struct{}),
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, stopping")
			return
		case <-ticker.C:
			if len(sim.parked) > 0 && (len(sim.parked) >= *lotSize || rng.Float64() < *exitChance) {
				sim.exit(ctx, sim.pick(rng))
				continue
			}
			sim.enter(ctx, randomPlate(rng), cats[rng.Intn(len(cats))])
		}
	}
}

type simulator struct {
	client   *http.Client
	baseURL  string
	operator string
	parked   map[string]struct{}
}

func (s *simulator) enter(ctx context.Context, plate, category string) {
	req := entryRequest{Plate: plate, Category: category}
	if category == "other-month" || category == "other-night" {
		price := int64(12000)
		if category == "other-month" {
			price = 120000
		}
		req.Size = "small"
		req.AgreedPrice = &price
	}

	status, body, err := s.do(ctx, http.MethodPost, "/api/sessions", req)
	if err != nil {
		log.Printf("entry %s failed: %v", plate, err)
		return
	}
	if status != http.StatusCreated {
		log.Printf("entry %s rejected (%d): %s", plate, status, strings.TrimSpace(string(body)))
		return
	}
	s.parked[plate] = struct{}{}
	log.Printf("entered %s as %s (%d parked)", plate, category, len(s.parked))
}

func (s *simulator) exit(ctx context.Context, plate string) {
	status, body, err := s.do(ctx, http.MethodPost, "/api/sessions/"+plate+"/exit", nil)
	if err != nil {
		log.Printf("exit %s failed: %v", plate, err)
		return
	}
	delete(s.parked, plate)
	if status != http.StatusOK {
		log.Printf("exit %s rejected (%d): %s", plate, status, strings.TrimSpace(string(body)))
		return
	}

	var r receiptResponse
	if err := json.Unmarshal(body, &r); err != nil {
		log.Printf("exit %s: decode receipt: %v", plate, err)
		return
	}
	log.Printf("exited %s after %s, charged %d (receipt %s)", r.Plate, r.StayDuration, r.FinalCost, r.ID)
}

func (s *simulator) pick(rng *rand.Rand) string {
	n := rng.Intn(len(s.parked))
	for plate := range s.parked {
		if n == 0 {
			return plate
		}
		n--
	}
	return ""
}

func (s *simulator) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operator-ID", s.operator)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func watchEvents(brokerAddr, prefix string) (mqtt.Client, error) {
	clientID := fmt.Sprintf("lot-sim-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to broker: %w", token.Error())
	}

	topic := strings.TrimSuffix(prefix, "/") + "/events/#"
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		log.Printf("event %s: %s", msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	log.Printf("watching %s on %s as %s", topic, brokerAddr, clientID)
	return client, nil
}

func randomPlate(rng *rand.Rand) string {
	const letters = "ABCDEFGHJKLMNPRSTUVWXYZ"
	b := make([]byte, 0, 6)
	for i := 0; i < 3; i++ {
		b = append(b, letters[rng.Intn(len(letters))])
	}
	return fmt.Sprintf("%s%03d", b, rng.Intn(1000))
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
