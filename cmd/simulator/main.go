package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	natsadapter "github.com/rcondori/haultrack/internal/adapters/nats"
	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/pkg/config"
	"github.com/rcondori/haultrack/internal/pkg/geospatial"
)

// The simulator publishes synthetic telemetry for haul trucks driving the
// Potosí itinerary: origin mine, cooperative weighbridge, destination
// weighbridge, destination warehouse. Each truck pings on an interval and
// periodically drops offline for a stretch, then uploads the buffered points
// as a batch, which exercises the reconciliation path end to end.

var waypoints = []struct {
	name string
	lat  float64
	lon  float64
}{
	{"Bocamina San Miguel", -19.5836, -65.7531},
	{"Balanza Cooperativa Unificada", -19.5702, -65.7558},
	{"Balanza Ingenio", -19.5489, -65.7612},
	{"Almacén Ingenio", -19.5471, -65.7630},
}

func main() {
	trucks := flag.Int("trucks", 3, "number of simulated trucks")
	interval := flag.Duration("interval", 5*time.Second, "ping interval")
	speedKmh := flag.Float64("speed", 25, "cruise speed in km/h")
	offlineEvery := flag.Int("offline-every", 20, "go offline roughly every N pings (0 disables)")
	flag.Parse()

	cfg, err := config.Load("haultrack-simulator")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < *trucks; i++ {
		wg.Add(1)
		tripKey := fmt.Sprintf("TRK-%03d|ASG-%d", 100+i, i+1)
		go func(key string, seed int64) {
			defer wg.Done()
			drive(ctx, pub, key, *interval, *speedKmh, *offlineEvery, rand.New(rand.NewSource(seed)))
		}(tripKey, int64(i))
	}

	log.Printf("simulator started: %d trucks, ping every %s", *trucks, *interval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()
	wg.Wait()
	log.Println("simulator stopped")
}

// drive walks one truck along the waypoint legs, publishing live pings and
// the occasional buffered offline batch.
func drive(ctx context.Context, pub *natsadapter.Publisher, tripKey string, interval time.Duration, speedKmh float64, offlineEvery int, rng *rand.Rand) {
	lat, lon := waypoints[0].lat, waypoints[0].lon
	leg := 1
	pings := 0

	var buffered []domain.Position
	offlineLeft := 0

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if leg >= len(waypoints) {
			log.Printf("[%s] itinerary complete", tripKey)
			return
		}

		target := waypoints[leg]
		stepKm := speedKmh * interval.Hours()
		remainKm := geospatial.DistanceKm(lat, lon, target.lat, target.lon)

		speed := speedKmh * (0.85 + 0.3*rng.Float64())
		if remainKm <= stepKm {
			lat, lon = target.lat, target.lon
			speed = 0
			leg++
			log.Printf("[%s] reached %s", tripKey, target.name)
		} else {
			frac := stepKm / remainKm
			lat += (target.lat - lat) * frac
			lon += (target.lon - lon) * frac
		}

		pos := domain.Position{
			Location:        domain.GeoPoint{Lat: lat, Lon: lon},
			Timestamp:       time.Now().UTC(),
			SpeedKmh:        math.Round(speed*10) / 10,
			HeadingDeg:      geospatial.BearingDeg(lat, lon, target.lat, target.lon),
			PrecisionMeters: 3 + 5*rng.Float64(),
		}
		pings++

		if offlineLeft > 0 {
			// In the tunnel: buffer locally, nothing on the wire.
			buffered = append(buffered, pos)
			offlineLeft--
			if offlineLeft == 0 {
				if err := pub.PublishBatch(ctx, tripKey, buffered); err != nil {
					log.Printf("[%s] batch publish: %v", tripKey, err)
				} else {
					log.Printf("[%s] back online, uploaded %d buffered points", tripKey, len(buffered))
				}
				buffered = nil
			}
			continue
		}

		if offlineEvery > 0 && pings%offlineEvery == 0 {
			offlineLeft = 3 + rng.Intn(10)
			log.Printf("[%s] signal lost for ~%d pings", tripKey, offlineLeft)
			buffered = append(buffered, pos)
			continue
		}

		if err := pub.PublishPing(ctx, tripKey, pos); err != nil {
			log.Printf("[%s] ping publish: %v", tripKey, err)
		}
	}
}
