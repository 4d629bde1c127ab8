// Package document serializa un DocumentModel al XML exacto del esquema de
// Hacienda, por tipo de comprobante. La serialización es una función pura:
// mismo modelo y misma marca de tiempo producen bytes idénticos.
package document

import (
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/facturacr/go-facturador/facturador/model"
)

const (
	nsFactura = "https://cdn.comprobanteselectronicos.go.cr/xml-schemas/v4.3/facturaElectronica"
	nsCompra  = "https://cdn.comprobanteselectronicos.go.cr/xml-schemas/v4.3/facturaElectronicaCompra"
	nsRecibo  = "https://cdn.comprobanteselectronicos.go.cr/xml-schemas/v4.3/reciboElectronicoPago"

	nsXSD = "http://www.w3.org/2001/XMLSchema"
	nsXSI = "http://www.w3.org/2001/XMLSchema-instance"
)

// Precisión fija: montos con 5 decimales, cantidades con 3.
const (
	moneyScale    = 5
	quantityScale = 3
)

// Anchos máximos de los campos de texto libre del esquema.
const (
	maxNombre     = 100
	maxDetalle    = 200
	maxOtrasSenas = 250
	maxCodigo     = 20
	maxNaturaleza = 80
	maxCorreo     = 160
)

// Build serializa el comprobante según su tipo. La marca de tiempo queda
// congelada como FechaEmision y debe reutilizarse al firmar.
func Build(m *model.DocumentModel, docType model.DocumentType, clave, consecutivo string, ts time.Time) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil document model")
	}

	var root *etree.Element
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	switch docType {
	case model.FacturaElectronica:
		root = doc.CreateElement("FacturaElectronica")
		root.CreateAttr("xmlns", nsFactura)
	case model.FacturaCompra:
		root = doc.CreateElement("FacturaElectronicaCompra")
		root.CreateAttr("xmlns", nsCompra)
	case model.ReciboPago:
		root = doc.CreateElement("ReciboElectronicoPago")
		root.CreateAttr("xmlns", nsRecibo)
	default:
		return nil, errors.Errorf("unknown document type %d", docType)
	}
	root.CreateAttr("xmlns:xsd", nsXSD)
	root.CreateAttr("xmlns:xsi", nsXSI)

	root.CreateElement("Clave").SetText(clave)
	root.CreateElement("NumeroConsecutivo").SetText(consecutivo)
	root.CreateElement("FechaEmision").SetText(ts.Format(time.RFC3339))

	emitParty(root, "Emisor", &m.Emisor)
	if m.Receptor != nil {
		emitParty(root, "Receptor", m.Receptor)
	}

	// el recibo de pago no lleva líneas de detalle
	if docType != model.ReciboPago && len(m.Lineas) > 0 {
		detalle := root.CreateElement("DetalleServicio")
		for i, l := range m.Lineas {
			emitLinea(detalle, i+1, &l)
		}
	}

	emitResumen(root, &m.Resumen)

	doc.WriteSettings = etree.WriteSettings{
		CanonicalEndTags: true,
		CanonicalText:    true,
		CanonicalAttrVal: true,
	}
	return doc.WriteToBytes()
}

func emitParty(parent *etree.Element, name string, p *model.Party) {
	e := parent.CreateElement(name)
	e.CreateElement("Nombre").SetText(truncate(p.Nombre, maxNombre))

	id := e.CreateElement("Identificacion")
	id.CreateElement("Tipo").SetText(p.TipoIdentificacion)
	id.CreateElement("Numero").SetText(p.NumeroIdentificacion)

	if p.NombreComercial != "" {
		e.CreateElement("NombreComercial").SetText(truncate(p.NombreComercial, maxNombre))
	}
	if p.Ubicacion != nil {
		u := e.CreateElement("Ubicacion")
		u.CreateElement("Provincia").SetText(p.Ubicacion.Provincia)
		u.CreateElement("Canton").SetText(p.Ubicacion.Canton)
		u.CreateElement("Distrito").SetText(p.Ubicacion.Distrito)
		if p.Ubicacion.OtrasSenas != "" {
			u.CreateElement("OtrasSenas").SetText(truncate(p.Ubicacion.OtrasSenas, maxOtrasSenas))
		}
	}
	if p.CorreoElectronico != "" {
		e.CreateElement("CorreoElectronico").SetText(truncate(p.CorreoElectronico, maxCorreo))
	}
}

func emitLinea(parent *etree.Element, numero int, l *model.Linea) {
	e := parent.CreateElement("LineaDetalle")
	e.CreateElement("NumeroLinea").SetText(strconv.Itoa(numero))
	if l.Codigo != "" {
		e.CreateElement("Codigo").SetText(truncate(l.Codigo, maxCodigo))
	}
	e.CreateElement("Cantidad").SetText(quantity(l.Cantidad))
	e.CreateElement("UnidadMedida").SetText(l.UnidadMedida)
	e.CreateElement("Detalle").SetText(truncate(l.Detalle, maxDetalle))
	e.CreateElement("PrecioUnitario").SetText(money(l.PrecioUnitario))
	e.CreateElement("MontoTotal").SetText(money(l.MontoTotal))

	if l.Descuento != nil {
		d := e.CreateElement("Descuento")
		d.CreateElement("MontoDescuento").SetText(money(l.Descuento.Monto))
		d.CreateElement("NaturalezaDescuento").SetText(truncate(l.Descuento.Naturaleza, maxNaturaleza))
	}
	if l.Impuesto != nil {
		i := e.CreateElement("Impuesto")
		i.CreateElement("Codigo").SetText(l.Impuesto.Codigo)
		i.CreateElement("Tarifa").SetText(money(l.Impuesto.Tarifa))
		i.CreateElement("Monto").SetText(money(l.Impuesto.Monto))
	}

	e.CreateElement("MontoTotalLinea").SetText(money(l.TotalLinea))
}

func emitResumen(parent *etree.Element, r *model.Resumen) {
	e := parent.CreateElement("ResumenFactura")
	if r.Moneda != "" {
		e.CreateElement("CodigoMoneda").SetText(r.Moneda)
	}
	e.CreateElement("TotalGravado").SetText(money(r.TotalGravado))
	e.CreateElement("TotalExento").SetText(money(r.TotalExento))
	e.CreateElement("TotalVenta").SetText(money(r.TotalVenta))
	e.CreateElement("TotalDescuentos").SetText(money(r.TotalDescuentos))
	e.CreateElement("TotalVentaNeta").SetText(money(r.TotalVentaNeta))
	e.CreateElement("TotalImpuesto").SetText(money(r.TotalImpuesto))
	e.CreateElement("TotalComprobante").SetText(money(r.TotalComprobante))
}

func money(d decimal.Decimal) string {
	return d.StringFixed(moneyScale)
}

func quantity(d decimal.Decimal) string {
	return d.StringFixed(quantityScale)
}

// truncate recorta sobre runas crudas antes de serializar; el escape de los
// caracteres especiales lo aplica el serializador canónico y no afecta el
// largo del campo.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
