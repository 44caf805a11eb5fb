package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// WeiPerEther devuelve 1e18 como *big.Int nuevo (el caller puede mutarlo).
func WeiPerEther() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(etherDecimals), nil)
}

// Gwei convierte gwei a wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

// ParseEther convierte un importe decimal en ether ("0.012") a wei exactos.
// Las fracciones por debajo de 1 wei se truncan.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("domain.ParseEther: %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("domain.ParseEther: negative amount %q", s)
	}
	return d.Shift(etherDecimals).BigInt(), nil
}

// FormatEther formatea wei como ether con 6 decimales (solo display).
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "???"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).StringFixed(6)
}

// WeiToEther convierte wei a float ether. Solo para heurísticas y UI: las
// decisiones de aceptación comparan wei exactos.
func WeiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).InexactFloat64()
}

func floatToWei(eth float64) *big.Int {
	return decimal.NewFromFloat(eth).Shift(etherDecimals).BigInt()
}

// ParseAddress normaliza una dirección hex (con o sin checksum) a common.Address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("domain.ParseAddress: invalid hex address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ShortAddress trunca una dirección para logs y tablas: 0x1234...abcd.
func ShortAddress(a common.Address) string {
	hex := a.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}
