package domain

import "math/big"

// curveDivisor es el divisor de la curva del contrato: precio = Σ i² × 1 ether / 16000.
const curveDivisor = 16000

// FeeRate contiene los fees del mercado escalados a 1e18 (1e18 = 100%).
// Un valor nil se trata como 0.
type FeeRate struct {
	Protocol *big.Int
	Subject  *big.Int
}

// DefaultFeeRate es el 10% total (5% protocolo + 5% subject) que usa el
// contrato desplegado; se usa cuando la lectura on-chain falla.
func DefaultFeeRate() FeeRate {
	five := new(big.Int).Div(WeiPerEther(), big.NewInt(20))
	return FeeRate{Protocol: five, Subject: new(big.Int).Set(five)}
}

// NewFeeRate construye un FeeRate a partir de un porcentaje float (0.1 = 10%),
// asignado entero al fee de protocolo. Solo para tests y configuración.
func NewFeeRate(total float64) FeeRate {
	return FeeRate{Protocol: floatToWei(total)}
}

// Total devuelve la suma de ambos fees escalada a 1e18.
func (f FeeRate) Total() *big.Int {
	total := new(big.Int)
	if f.Protocol != nil {
		total.Add(total, f.Protocol)
	}
	if f.Subject != nil {
		total.Add(total, f.Subject)
	}
	return total
}

// Float devuelve el fee total como float (0.1 = 10%). Solo para heurísticas y UI.
func (f FeeRate) Float() float64 {
	return WeiToEther(f.Total())
}

// RawPrice es el precio sin fees de comprar amount unidades con supply en circulación.
// Replica getPrice() del contrato con aritmética entera exacta.
func RawPrice(supply, amount uint64) *big.Int {
	s := new(big.Int).SetUint64(supply)
	n := new(big.Int).Add(s, new(big.Int).SetUint64(amount))

	summation := new(big.Int).Sub(sumOfSquares(n), sumOfSquares(s))
	summation.Mul(summation, WeiPerEther())
	return summation.Div(summation, big.NewInt(curveDivisor))
}

// QuotePrice es el coste en wei de comprar amount unidades con fees incluidos,
// igual a getBuyPriceAfterFee() del contrato: price + price×protocol/1e18 + price×subject/1e18.
func QuotePrice(supply, amount uint64, fees FeeRate) *big.Int {
	price := RawPrice(supply, amount)
	quote := new(big.Int).Set(price)
	quote.Add(quote, feeOf(price, fees.Protocol))
	quote.Add(quote, feeOf(price, fees.Subject))
	return quote
}

// BestEntrySupply devuelve el supply cuyo precio de la siguiente unidad es el
// mayor que no supera ceiling.
//
// Inversa cerrada de la curva: s = ⌊√(ceiling / (1+fee) × 16000 / 1e18)⌋, seguida
// de un ajuste local. El redondeo entero de precio y fees hace que la inversa
// continua pueda quedar una o dos unidades del lado equivocado del techo, así que
// se desliza hasta que QuotePrice(s,1) ≤ ceiling < QuotePrice(s+1,1).
func BestEntrySupply(ceiling *big.Int, fees FeeRate) uint64 {
	if ceiling == nil || ceiling.Sign() <= 0 {
		return 0
	}

	one := WeiPerEther()
	target := new(big.Int).Mul(ceiling, one)
	target.Div(target, new(big.Int).Add(one, fees.Total()))
	target.Mul(target, big.NewInt(curveDivisor))
	target.Div(target, one)

	s := target.Sqrt(target).Uint64()

	for QuotePrice(s+1, 1, fees).Cmp(ceiling) <= 0 {
		s++
	}
	for s > 0 && QuotePrice(s, 1, fees).Cmp(ceiling) > 0 {
		s--
	}
	return s
}

// SupplyFromQuote deduce el supply actual a partir de la cotización de una unidad.
func SupplyFromQuote(quote *big.Int, fees FeeRate) uint64 {
	return BestEntrySupply(quote, fees)
}

// EntrySupply es el supply al que realmente vamos a entrar: con supply < 4 se
// asume que otros dos compradores llegan antes que nosotros, si no, uno.
func EntrySupply(supply uint64) uint64 {
	if supply < 4 {
		return supply + 2
	}
	return supply + 1
}

// EntryPrice es el precio heurístico de entrada para una cotización de una unidad:
// el precio de la siguiente unidad en EntrySupply(supply actual). Es el valor que
// se compara contra el techo y el que se adjunta a la transacción de compra.
func EntryPrice(quote *big.Int, fees FeeRate) *big.Int {
	supply := SupplyFromQuote(quote, fees)
	return QuotePrice(EntrySupply(supply), 1, fees)
}

// sumOfSquares devuelve Σ i² para i en [0, n) = (n-1)·n·(2n-1)/6.
func sumOfSquares(n *big.Int) *big.Int {
	if n.Sign() == 0 {
		return new(big.Int)
	}
	nMinus1 := new(big.Int).Sub(n, big.NewInt(1))
	twoNMinus1 := new(big.Int).Add(nMinus1, n)

	out := new(big.Int).Mul(nMinus1, n)
	out.Mul(out, twoNMinus1)
	return out.Div(out, big.NewInt(6))
}

func feeOf(price, pct *big.Int) *big.Int {
	if pct == nil || pct.Sign() == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(price, pct)
	return fee.Div(fee, WeiPerEther())
}
