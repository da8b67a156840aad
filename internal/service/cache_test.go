package service

import (
	"testing"
	"time"

	"github.com/bigkaa/intersect-registry/internal/domain/model"
)

// TestLookupCache_GetSet проверяет базовые операции Get/Set.
func TestLookupCache_GetSet(t *testing.T) {
	cache := NewLookupCache(100, 5*time.Minute)
	cfg := &model.ConnectionConfig{SystemName: "intersect"}

	if _, ok := cache.Get("weather-sim", "key"); ok {
		t.Fatal("ожидался cache miss для нового ключа")
	}

	cache.Set("weather-sim", "key", cfg)
	got, ok := cache.Get("weather-sim", "key")
	if !ok {
		t.Fatal("ожидался cache hit после Set")
	}
	if got.SystemName != "intersect" {
		t.Errorf("SystemName = %q, ожидался intersect", got.SystemName)
	}
}

// TestLookupCache_WrongKey — запись не выдаётся по чужому ключу.
func TestLookupCache_WrongKey(t *testing.T) {
	cache := NewLookupCache(100, 5*time.Minute)
	cache.Set("weather-sim", "key", &model.ConnectionConfig{})

	if _, ok := cache.Get("weather-sim", "other-key"); ok {
		t.Fatal("ожидался cache miss при неверном ключе")
	}
}

// TestLookupCache_Invalidate проверяет удаление записи.
func TestLookupCache_Invalidate(t *testing.T) {
	cache := NewLookupCache(100, 5*time.Minute)
	cache.Set("weather-sim", "key", &model.ConnectionConfig{})

	cache.Invalidate("weather-sim")

	if _, ok := cache.Get("weather-sim", "key"); ok {
		t.Fatal("ожидался cache miss после Invalidate")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, ожидался 0", cache.Len())
	}
}

// TestLookupCache_TTLExpiration проверяет автоматическое истечение TTL.
func TestLookupCache_TTLExpiration(t *testing.T) {
	cache := NewLookupCache(100, 50*time.Millisecond)
	cache.Set("weather-sim", "key", &model.ConnectionConfig{})

	time.Sleep(100 * time.Millisecond)

	if _, ok := cache.Get("weather-sim", "key"); ok {
		t.Fatal("ожидался cache miss после истечения TTL")
	}
}

// TestLookupCache_Eviction проверяет вытеснение при переполнении.
func TestLookupCache_Eviction(t *testing.T) {
	cache := NewLookupCache(2, 5*time.Minute)
	cache.Set("aaa", "k", &model.ConnectionConfig{})
	cache.Set("bbb", "k", &model.ConnectionConfig{})
	cache.Set("ccc", "k", &model.ConnectionConfig{})

	if _, ok := cache.Get("aaa", "k"); ok {
		t.Error("самая старая запись должна быть вытеснена")
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, ожидался 2", cache.Len())
	}
}
