package transfer

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestPushPullPreservesOrder(t *testing.T) {
	b := NewBuffer()
	chunks := [][]byte{[]byte("alpha"), []byte(""), []byte("beta"), bytes.Repeat([]byte{0xAB}, 4096), []byte("omega")}

	var got bytes.Buffer
	done := make(chan error, 1)
	go func() {
		for {
			c, err := b.Pull()
			if err == io.EOF {
				done <- nil
				return
			}
			if err != nil {
				done <- err
				return
			}
			got.Write(c)
		}
	}()

	var want bytes.Buffer
	for i, c := range chunks {
		if err := b.Push(c); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		want.Write(c)
	}
	b.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("consumer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}

	if !bytes.Equal(got.Bytes(), want.Bytes()) {
		t.Fatalf("pulled %d bytes, pushed %d bytes (content differs)", got.Len(), want.Len())
	}
}

func TestPushBlocksUntilPulled(t *testing.T) {
	b := NewBuffer()
	pushed := make(chan struct{})
	go func() {
		b.Push([]byte("one"))
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("Push returned before the chunk was pulled")
	case <-time.After(50 * time.Millisecond):
	}
	if s := b.State(); s != Full {
		t.Fatalf("state = %v, want full", s)
	}

	c, err := b.Pull()
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if string(c) != "one" {
		t.Fatalf("Pull = %q, want %q", c, "one")
	}

	select {
	case <-pushed:
	case <-time.After(5 * time.Second):
		t.Fatal("Push did not return after Pull")
	}
	if s := b.State(); s != Empty {
		t.Fatalf("state = %v, want empty", s)
	}
}

func TestPushCopiesChunk(t *testing.T) {
	b := NewBuffer()
	src := []byte("original")
	result := make(chan []byte, 1)
	go func() {
		c, _ := b.Pull()
		result <- c
	}()

	if err := b.Push(src); err != nil {
		t.Fatal(err)
	}
	copy(src, "mutated!")

	if got := <-result; string(got) != "original" {
		t.Fatalf("consumer saw %q after producer reused its slice", got)
	}
}

func TestAbortWakesProducerAndConsumer(t *testing.T) {
	producer := NewBuffer()
	consumer := NewBuffer()

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- producer.Push([]byte("never pulled"))
	}()
	go func() {
		defer wg.Done()
		_, err := consumer.Pull()
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	producer.Abort()
	consumer.Abort()

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked parties did not wake after Abort")
	}

	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("err = %v, want ErrAborted", err)
		}
	}
}

func TestAbortWakesBothSidesOfOneBuffer(t *testing.T) {
	b := NewBuffer()
	pushErr := make(chan error, 1)
	pullErr := make(chan error, 1)

	// A consumer that stops pulling after the first chunk, leaving the
	// producer blocked on the second.
	go func() {
		b.Pull()
		time.Sleep(20 * time.Millisecond)
		b.Abort()
		_, err := b.Pull()
		pullErr <- err
	}()
	go func() {
		b.Push([]byte("first"))
		pushErr <- b.Push([]byte("second"))
	}()

	for _, ch := range []chan error{pushErr, pullErr} {
		select {
		case err := <-ch:
			if !errors.Is(err, ErrAborted) {
				t.Fatalf("err = %v, want ErrAborted", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("deadlock after Abort")
		}
	}
}

func TestAbortIsTerminal(t *testing.T) {
	b := NewBuffer()
	b.Abort()
	b.Abort()

	if err := b.Push([]byte("x")); !errors.Is(err, ErrAborted) {
		t.Fatalf("Push after Abort = %v, want ErrAborted", err)
	}
	if _, err := b.Pull(); !errors.Is(err, ErrAborted) {
		t.Fatalf("Pull after Abort = %v, want ErrAborted", err)
	}
	b.Close()
	if s := b.State(); s != Aborted {
		t.Fatalf("state = %v, want aborted", s)
	}
	if _, err := b.Pull(); !errors.Is(err, ErrAborted) {
		t.Fatalf("Pull after Abort+Close = %v, want ErrAborted", err)
	}
}

func TestPullAfterCloseReturnsEOF(t *testing.T) {
	b := NewBuffer()
	b.Close()
	if _, err := b.Pull(); err != io.EOF {
		t.Fatalf("Pull after Close = %v, want io.EOF", err)
	}
	if s := b.State(); s != Closed {
		t.Fatalf("state = %v, want closed", s)
	}
}

func TestDoneClosedOnAbortOnly(t *testing.T) {
	b := NewBuffer()
	b.Close()
	select {
	case <-b.Done():
		t.Fatal("Done closed by Close")
	default:
	}

	b = NewBuffer()
	b.Abort()
	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Abort")
	}
}
