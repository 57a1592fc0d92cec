// Package logger пишет логи с префиксом сервиса асинхронно и не блокирует
// обработчики звонков и сообщений. Есть замер длительности и Flush перед выходом.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

const (
	asyncBufferSize = 8192
	slowThreshold   = 100 * time.Millisecond
)

var (
	prefix   string
	logLevel = levelInfo
	ch       chan entry
	once     sync.Once
)

// entry с непустым flushed — маркер Flush, сам не печатается.
type entry struct {
	msg     string
	flushed chan struct{}
}

type level int

const (
	levelDebug level = iota
	levelInfo
)

func initLevel() {
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "trace":
		logLevel = levelDebug
	default:
		logLevel = levelInfo
	}
}

func initWorker() {
	initLevel()
	ch = make(chan entry, asyncBufferSize)
	go func() {
		for e := range ch {
			if e.flushed != nil {
				close(e.flushed)
				continue
			}
			log.Print(e.msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- entry{msg: msg}:
	default:
		// буфер полон: строка теряется, вызывающий не ждёт
	}
}

// Flush ждёт, пока записаны строки, поставленные в очередь до вызова. Вызывается перед выходом.
func Flush(timeout time.Duration) bool {
	once.Do(initWorker)
	done := make(chan struct{})
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ch <- entry{flushed: done}:
	case <-t.C:
		return false
	}
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// SetOutput перенаправляет вывод (тесты, файл).
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// SetPrefix задаёт префикс для всех последующих логов ("api", "realtime", "softphone").
func SetPrefix(p string) {
	prefix = p
}

func tag() string {
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	once.Do(initWorker)
	if logLevel != levelDebug {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя операции и время выполнения в миллисекундах.
// При LOG_LEVEL=info пишутся только вызовы дольше 100ms, при debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	once.Do(initWorker)
	if logLevel == levelDebug || elapsed >= slowThreshold {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration для defer: defer logger.DeferLogDuration("msg.Insert", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
