package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DocumentType identifica el tipo de comprobante electrónico.
type DocumentType int

const (
	FacturaElectronica DocumentType = iota
	FacturaCompra
	ReciboPago
)

// Code código de dos dígitos usado en la clave y el consecutivo.
func (t DocumentType) Code() string {
	switch t {
	case FacturaElectronica:
		return "01"
	case FacturaCompra:
		return "08"
	case ReciboPago:
		return "09"
	}
	panic("invalid document type")
}

func (t DocumentType) Name() string {
	switch t {
	case FacturaElectronica:
		return "factura"
	case FacturaCompra:
		return "factura-compra"
	case ReciboPago:
		return "recibo-pago"
	}
	panic("invalid document type")
}

func (t *DocumentType) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "factura", "01":
		*t = FacturaElectronica
	case "factura-compra", "08":
		*t = FacturaCompra
	case "recibo-pago", "09":
		*t = ReciboPago
	default:
		return fmt.Errorf("invalid document type: %q", text)
	}
	return nil
}

// Party emisor o receptor del comprobante.
type Party struct {
	TipoIdentificacion   string // 01 física, 02 jurídica, 03 DIMEX, 04 NITE
	NumeroIdentificacion string
	Nombre               string
	NombreComercial      string
	CorreoElectronico    string
	Ubicacion            *Ubicacion
}

type Ubicacion struct {
	Provincia  string
	Canton     string
	Distrito   string
	OtrasSenas string
}

type Descuento struct {
	Monto      decimal.Decimal
	Naturaleza string
}

type Impuesto struct {
	Codigo string
	Tarifa decimal.Decimal
	Monto  decimal.Decimal
}

// Linea una línea de detalle; Descuento e Impuesto son opcionales.
type Linea struct {
	Codigo         string
	Cantidad       decimal.Decimal
	UnidadMedida   string
	Detalle        string
	PrecioUnitario decimal.Decimal
	MontoTotal     decimal.Decimal
	Descuento      *Descuento
	Impuesto       *Impuesto
	TotalLinea     decimal.Decimal
}

type Resumen struct {
	Moneda           string
	TotalGravado     decimal.Decimal
	TotalExento      decimal.Decimal
	TotalVenta       decimal.Decimal
	TotalDescuentos  decimal.Decimal
	TotalVentaNeta   decimal.Decimal
	TotalImpuesto    decimal.Decimal
	TotalComprobante decimal.Decimal
}

// DocumentModel modelo en memoria de un comprobante, previo a serialización.
type DocumentModel struct {
	Emisor   Party
	Receptor *Party
	Lineas   []Linea
	Resumen  Resumen
}

// Estados del registro del documento en persistencia.
const (
	StatusFirmado   = "FIRMADO"
	StatusEnviado   = "ENVIADO"
	StatusEnCola    = "EN_COLA"
	StatusError     = "ERROR"
	StatusAceptado  = "ACEPTADO"
	StatusRechazado = "RECHAZADO"
)

// Resultado de la emisión hacia la capa de orquestación externa.
const (
	OutcomeSuccess = "success"
	OutcomeWarning = "warning"
	OutcomeError   = "error"
)

// DocumentState lo que ve la capa externa tras intentar emitir.
type DocumentState struct {
	Status            string
	Message           string
	Clave             string
	Consecutivo       string
	SignedXML         []byte
	AuthorityResponse string
}
