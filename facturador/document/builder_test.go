package document

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturacr/go-facturador/facturador/model"
)

var (
	testTime  = time.Date(2026, 8, 14, 10, 30, 0, 0, time.UTC)
	testClave = "50603101123456" + "260814" + "001" + "00001" + "01" + "0000000042" + "1" + "12345678"
)

func testModel() *model.DocumentModel {
	return &model.DocumentModel{
		Emisor: model.Party{
			TipoIdentificacion:   "02",
			NumeroIdentificacion: "3101123456",
			Nombre:               "Comercial La Montaña S.A.",
		},
		Receptor: &model.Party{
			TipoIdentificacion:   "01",
			NumeroIdentificacion: "109870654",
			Nombre:               "Ana Rodríguez",
		},
		Lineas: []model.Linea{
			{
				Cantidad:       decimal.NewFromInt(2),
				UnidadMedida:   "Unid",
				Detalle:        "Servicio de consultoría",
				PrecioUnitario: decimal.NewFromFloat(1000),
				MontoTotal:     decimal.NewFromFloat(2000),
				TotalLinea:     decimal.NewFromFloat(2260),
			},
		},
		Resumen: model.Resumen{
			Moneda:           "CRC",
			TotalVenta:       decimal.NewFromFloat(2000),
			TotalVentaNeta:   decimal.NewFromFloat(2000),
			TotalImpuesto:    decimal.NewFromFloat(260),
			TotalComprobante: decimal.NewFromFloat(2260),
		},
	}
}

func TestBuild_Pure(t *testing.T) {

	m := testModel()

	a, err := Build(m, model.FacturaElectronica, testClave, "00100001010000000042", testTime)
	require.NoError(t, err)
	b, err := Build(m, model.FacturaElectronica, testClave, "00100001010000000042", testTime)
	require.NoError(t, err)

	// misma entrada y misma marca de tiempo -> bytes idénticos
	assert.Equal(t, a, b)
}

func TestBuild_RootPerType(t *testing.T) {

	cases := []struct {
		docType model.DocumentType
		root    string
	}{
		{model.FacturaElectronica, "<FacturaElectronica "},
		{model.FacturaCompra, "<FacturaElectronicaCompra "},
		{model.ReciboPago, "<ReciboElectronicoPago "},
	}

	for _, c := range cases {
		xml, err := Build(testModel(), c.docType, testClave, "00100001010000000042", testTime)
		require.NoError(t, err)
		assert.Contains(t, string(xml), c.root, c.docType.Name())
	}
}

func TestBuild_Contents(t *testing.T) {

	xml, err := Build(testModel(), model.FacturaElectronica, testClave, "00100001010000000042", testTime)
	require.NoError(t, err)
	s := string(xml)

	assert.Contains(t, s, "<Clave>"+testClave+"</Clave>")
	assert.Contains(t, s, "<NumeroConsecutivo>00100001010000000042</NumeroConsecutivo>")
	assert.Contains(t, s, "<FechaEmision>2026-08-14T10:30:00Z</FechaEmision>")
	assert.Contains(t, s, "<PrecioUnitario>1000.00000</PrecioUnitario>")
	assert.Contains(t, s, "<Cantidad>2.000</Cantidad>")
	assert.Contains(t, s, "<TotalComprobante>2260.00000</TotalComprobante>")
}

func TestBuild_OptionalBlocksOmitted(t *testing.T) {

	xml, err := Build(testModel(), model.FacturaElectronica, testClave, "00100001010000000042", testTime)
	require.NoError(t, err)
	s := string(xml)

	// sin descuento, impuesto ni ubicación no deben existir ni vacíos
	assert.NotContains(t, s, "<Descuento>")
	assert.NotContains(t, s, "<Impuesto>")
	assert.NotContains(t, s, "<Ubicacion>")
}

func TestBuild_ReciboSinLineas(t *testing.T) {

	m := testModel()
	m.Lineas = nil

	xml, err := Build(m, model.ReciboPago, testClave, "00100001090000000042", testTime)
	require.NoError(t, err)

	assert.NotContains(t, string(xml), "<DetalleServicio>")
	assert.Contains(t, string(xml), "<ResumenFactura>")
}

func TestBuild_EscapeAndTruncate(t *testing.T) {

	m := testModel()
	m.Lineas[0].Detalle = strings.Repeat("á", maxDetalle+10) + "<&>"

	xml, err := Build(m, model.FacturaElectronica, testClave, "00100001010000000042", testTime)
	require.NoError(t, err)
	s := string(xml)

	// el truncado corre sobre runas crudas, antes del escape
	assert.Contains(t, s, "<Detalle>"+strings.Repeat("á", maxDetalle)+"</Detalle>")
	assert.NotContains(t, s, "<&>")
}

func TestBuild_EscapedSpecials(t *testing.T) {

	m := testModel()
	m.Emisor.Nombre = `Hnos. Solís & Cía <SA>`

	xml, err := Build(m, model.FacturaElectronica, testClave, "00100001010000000042", testTime)
	require.NoError(t, err)

	assert.Contains(t, string(xml), "Hnos. Solís &amp; Cía &lt;SA&gt;")
}

func TestTruncate(t *testing.T) {

	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abc", truncate("abcde", 3))
	assert.Equal(t, "ááá", truncate("ááááá", 3))
}
