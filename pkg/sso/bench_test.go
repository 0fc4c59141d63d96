package sso

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"
)

func BenchmarkMapToLocalRoles(b *testing.B) {
	cfg := DefaultConfig()
	cfg.RoleMapping = RoleMapping{}
	for i := 0; i < 50; i++ {
		cfg.RoleMapping[fmt.Sprintf("idp-role-%d", i)] = []string{fmt.Sprintf("Local %d", i%7), "Sales Agent"}
	}
	mapper := NewRoleMapper(cfg, nil, nil)
	roles := []string{"idp-role-3", "idp-role-17", "offline_access", "idp-role-42", "uma_authorization"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = mapper.MapToLocalRoles(roles)
	}
}

func BenchmarkTokenCipher(b *testing.B) {
	cipher, err := NewTokenCipher(bytes.Repeat([]byte{9}, EncryptionKeySize))
	if err != nil {
		b.Fatal(err)
	}
	token := string(bytes.Repeat([]byte("r"), 900))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sealed, err := cipher.Encrypt(token)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := cipher.Decrypt(sealed); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLRUClaimsCache(b *testing.B) {
	cache := NewLRUClaimsCache(1024, time.Hour)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)
	for i := 0; i < 1024; i++ {
		cache.Set(ctx, fmt.Sprintf("token-%d", i), Claims{Subject: fmt.Sprintf("kc-%d", i)}, expires)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get(ctx, fmt.Sprintf("token-%d", i%1024))
	}
}
