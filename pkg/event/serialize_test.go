package event

import (
	"testing"
	"time"
)

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("RequestDispatchedDataでイベントを正常に生成できること", func(t *testing.T) {
		t.Parallel()

		before := time.Now().UTC()
		ev, err := New(TypeRequestDispatched, Meta{
			RequestID: "req-1",
			ClientKey: "10.0.0.1",
			Method:    "GET",
			Path:      "/api/orders/1",
		}, RequestDispatchedData{Service: "order", Outcome: "success", StatusCode: 200, Attempts: 1})
		after := time.Now().UTC()

		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if ev.ID == "" {
			t.Error("IDが空文字列")
		}
		if ev.EventType != TypeRequestDispatched {
			t.Errorf("EventType = %q, want %q", ev.EventType, TypeRequestDispatched)
		}
		if ev.RequestID != "req-1" || ev.ClientKey != "10.0.0.1" || ev.Path != "/api/orders/1" {
			t.Errorf("Meta = %+v", ev)
		}
		if ev.CreatedAt.Before(before) || ev.CreatedAt.After(after) {
			t.Errorf("CreatedAt = %v, want between %v and %v", ev.CreatedAt, before, after)
		}

		data, err := DecodeData[RequestDispatchedData](ev)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if data.Service != "order" || data.StatusCode != 200 {
			t.Errorf("data = %+v", data)
		}
	})

	t.Run("dataがnilの場合は空オブジェクトになること", func(t *testing.T) {
		t.Parallel()

		ev, err := New(TypeRequestAdmitted, Meta{}, nil)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if string(ev.Data) != "{}" {
			t.Errorf("Data = %s, want {}", ev.Data)
		}
	})

	t.Run("シリアライズできないデータはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := New(TypeRequestAdmitted, Meta{}, make(chan int)); err == nil {
			t.Error("エラーにならなかった")
		}
	})

	t.Run("IDが毎回異なること", func(t *testing.T) {
		t.Parallel()

		a, _ := New(TypeRequestAdmitted, Meta{}, nil)
		b, _ := New(TypeRequestAdmitted, Meta{}, nil)
		if a.ID == b.ID {
			t.Errorf("IDが重複した: %s", a.ID)
		}
	})
}

// TestDecodeData は不正なデータのデシリアライズを検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	ev := &Event{Data: []byte(`{"limit":"many"}`)}
	if _, err := DecodeData[RequestRejectedData](ev); err == nil {
		t.Error("型が一致しないデータでエラーにならなかった")
	}
}
