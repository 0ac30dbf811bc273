// Command loadtest drives a LineChat server with simulated chat users to
// measure throughput and find connection limits.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat."

var loremWords = strings.Fields(loremIpsum)

type stats struct {
	connected    atomic.Int64
	loginsOK     atomic.Int64
	loginsFailed atomic.Int64
	sent         atomic.Int64
	received     atomic.Int64
	errors       atomic.Int64
}

func randomMessage(r *rand.Rand) string {
	n := 3 + r.Intn(10)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[r.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

// worker registers and logs in one simulated user, then alternates public
// sends with reads until stop closes.
func worker(id int, addr string, interval time.Duration, st *stats, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	login := fmt.Sprintf("load%d", id)
	name := fmt.Sprintf("Load%d", id)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		st.errors.Add(1)
		return
	}
	defer conn.Close()
	st.connected.Add(1)
	defer st.connected.Add(-1)

	reader := bufio.NewReader(conn)
	sendLine := func(line string) error {
		_, err := conn.Write([]byte(line + "\n"))
		return err
	}
	readLine := func(timeout time.Duration) (string, error) {
		conn.SetReadDeadline(time.Now().Add(timeout))
		line, err := reader.ReadString('\n')
		return strings.TrimRight(line, "\n"), err
	}

	// Register (ignore duplicate failures on rerun) and log in
	if err := sendLine(fmt.Sprintf("1 %s pw %s", login, name)); err != nil {
		st.errors.Add(1)
		return
	}
	readLine(5 * time.Second)
	if err := sendLine(fmt.Sprintf("2 %s pw", login)); err != nil {
		st.errors.Add(1)
		return
	}
	resp, err := readLine(5 * time.Second)
	if err != nil || !strings.Contains(resp, "Login successful!") {
		st.loginsFailed.Add(1)
		return
	}
	st.loginsOK.Add(1)

	// Drain broadcasts in the background so the server's writes never stall
	go func() {
		for {
			if _, err := readLine(time.Minute); err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				return
			}
			st.received.Add(1)
		}
	}()

	ticker := time.NewTicker(interval + time.Duration(r.Intn(200))*time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sendLine("2 " + randomMessage(r)); err != nil {
				st.errors.Add(1)
				return
			}
			st.sent.Add(1)
		}
	}
}

func main() {
	addr := flag.String("addr", "localhost:7777", "server address")
	clients := flag.Int("clients", 50, "number of simulated users")
	interval := flag.Duration("interval", 2*time.Second, "delay between messages per user")
	rampup := flag.Duration("rampup", 20*time.Millisecond, "delay between connection attempts")
	duration := flag.Duration("duration", 0, "test duration (0 = run until interrupted)")
	flag.Parse()

	st := &stats{}
	stop := make(chan struct{})
	var wg sync.WaitGroup

	log.Printf("Starting %d clients against %s", *clients, *addr)
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go worker(i, *addr, *interval, st, stop, &wg)
		time.Sleep(*rampup)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}

	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	start := time.Now()
loop:
	for {
		select {
		case <-report.C:
			elapsed := time.Since(start).Seconds()
			log.Printf("connected=%d logins=%d/%d sent=%d (%.1f/s) received=%d errors=%d",
				st.connected.Load(),
				st.loginsOK.Load(), st.loginsOK.Load()+st.loginsFailed.Load(),
				st.sent.Load(), float64(st.sent.Load())/elapsed,
				st.received.Load(), st.errors.Load())
		case <-sigCh:
			break loop
		case <-timeout:
			break loop
		}
	}

	log.Println("Stopping clients...")
	close(stop)
	wg.Wait()

	elapsed := time.Since(start).Seconds()
	fmt.Printf("\n=== Results ===\n")
	fmt.Printf("Duration:   %.1fs\n", elapsed)
	fmt.Printf("Logins:     %d ok, %d failed\n", st.loginsOK.Load(), st.loginsFailed.Load())
	fmt.Printf("Sent:       %d (%.1f msg/s)\n", st.sent.Load(), float64(st.sent.Load())/elapsed)
	fmt.Printf("Received:   %d\n", st.received.Load())
	fmt.Printf("Errors:     %d\n", st.errors.Load())
}
