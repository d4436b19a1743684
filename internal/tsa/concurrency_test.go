package tsa

import (
	"bytes"
	"crypto"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestConcurrency_Build_Concurrent tests that one Builder serves many
// simultaneous requests without sharing per-request state.
func TestConcurrency_Build_Concurrent(t *testing.T) {
	b, tsa := newTestBuilder(t)
	wantSerial := new(big.Int).Add(tsa.cert.SerialNumber, big.NewInt(1))

	const numGoroutines = 50
	var wg sync.WaitGroup
	var successCount int32
	errors := make(chan error, numGoroutines)

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()

			data := []byte(fmt.Sprintf("test data %d", id))
			nonce := big.NewInt(int64(id + 1))
			at := testGenTime.Add(time.Duration(id) * time.Second)

			req, err := CreateRequest(data, crypto.SHA256, nonce, id%2 == 0)
			if err != nil {
				errors <- fmt.Errorf("goroutine %d: CreateRequest failed: %w", id, err)
				return
			}
			body, err := req.Marshal()
			if err != nil {
				errors <- fmt.Errorf("goroutine %d: Marshal failed: %w", id, err)
				return
			}

			res := b.IssueAt(body, at)
			if !res.OK() {
				errors <- fmt.Errorf("goroutine %d: Build failed: %v", id, res.Err)
				return
			}

			info := res.Token.Info
			if info.Nonce.Cmp(nonce) != 0 {
				errors <- fmt.Errorf("goroutine %d: nonce %v leaked from another request", id, info.Nonce)
				return
			}
			if !info.GenTime.Equal(at) {
				errors <- fmt.Errorf("goroutine %d: genTime %v, want %v", id, info.GenTime, at)
				return
			}
			if !bytes.Equal(info.MessageImprint.HashedMessage, req.MessageImprint.HashedMessage) {
				errors <- fmt.Errorf("goroutine %d: imprint mismatch", id)
				return
			}
			if info.SerialNumber.Cmp(wantSerial) != 0 {
				errors <- fmt.Errorf("goroutine %d: serial %v, want %v", id, info.SerialNumber, wantSerial)
				return
			}

			atomic.AddInt32(&successCount, 1)
		}(i)
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		t.Error(err)
	}

	if int(successCount) != numGoroutines {
		t.Errorf("Expected %d successful builds, got %d", numGoroutines, successCount)
	}
}

// TestConcurrency_SerialGenerator_Concurrent tests that callers cannot
// corrupt the shared serial through the returned value.
func TestConcurrency_SerialGenerator_Concurrent(t *testing.T) {
	tsa := newTestTSA(t)
	gen, err := NewCertSerialGenerator(tsa.cert)
	if err != nil {
		t.Fatalf("NewCertSerialGenerator failed: %v", err)
	}
	want := new(big.Int).Add(tsa.cert.SerialNumber, big.NewInt(1))

	const numGoroutines = 100
	var wg sync.WaitGroup
	errors := make(chan error, numGoroutines)

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()

			serial, err := gen.Next()
			if err != nil {
				errors <- fmt.Errorf("goroutine %d: Next() failed: %w", id, err)
				return
			}
			if serial.Cmp(want) != 0 {
				errors <- fmt.Errorf("goroutine %d: serial %v, want %v", id, serial, want)
				return
			}
			serial.SetInt64(int64(id))
		}(i)
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		t.Error(err)
	}
}
