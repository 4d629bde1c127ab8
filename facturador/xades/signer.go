// Package xades produce la firma electrónica avanzada (XAdES-EPES) embebida
// en el comprobante. La cadena de digests se calcula en un solo paso: los
// tres digests de referencia existen antes de armar el SignedInfo.
package xades

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/facturacr/go-facturador/facturador/vault"
)

// Signer firma comprobantes con una identidad del vault. La identidad es
// prestada: el dueño sigue siendo responsable de hacer Scrub.
type Signer struct {
	identity *vault.SigningIdentity
}

func NewSigner(identity *vault.SigningIdentity) *Signer {
	return &Signer{identity: identity}
}

var interTagWhitespace = regexp.MustCompile(`>\s+<`)

// normalize elimina el espacio en blanco entre etiquetas. Los pasos 2 a 4
// del protocolo usan exactamente esta normalización; cualquier desviación
// produce digests irreproducibles.
func normalize(s string) string {
	return interTagWhitespace.ReplaceAllString(strings.TrimSpace(s), "><")
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Sign calcula la cadena de digests, firma el SignedInfo e inyecta el bloque
// ds:Signature como último hijo del elemento raíz. signingTime debe ser la
// misma marca de tiempo congelada en FechaEmision.
func (s *Signer) Sign(doc []byte, signingTime time.Time) ([]byte, error) {
	if s.identity == nil || s.identity.PrivateKey == nil || s.identity.Certificate == nil {
		return nil, errors.New("signer has no identity")
	}

	// 1. digest del documento canónico, antes de inyectar la firma
	sum := sha256.Sum256(doc)
	docDigest := base64.StdEncoding.EncodeToString(sum[:])

	// ids únicos por instancia de firma, sin significado semántico
	base := uuid.NewString()
	sigID := "Signature-" + base
	signedInfoID := "SignedInfo-" + base
	sigValueID := "SignatureValue-" + base
	keyInfoID := "KeyInfo-" + base
	signedPropsID := "SignedProperties-" + base
	refDocID := "Reference-" + base

	cert := s.identity.Certificate
	certB64 := base64.StdEncoding.EncodeToString(cert.Raw)
	certSum := sha256.Sum256(cert.Raw)
	certDigest := base64.StdEncoding.EncodeToString(certSum[:])

	// 2. SignedProperties: hora de firma, digest/emisor/serie del
	// certificado y la política de firma fija
	signedProps := normalize(fmt.Sprintf(
		`<xades:SignedProperties xmlns:ds=%q xmlns:xades=%q Id=%q>`+
			`<xades:SignedSignatureProperties>`+
			`<xades:SigningTime>%s</xades:SigningTime>`+
			`<xades:SigningCertificate><xades:Cert>`+
			`<xades:CertDigest>`+
			`<ds:DigestMethod Algorithm=%q></ds:DigestMethod>`+
			`<ds:DigestValue>%s</ds:DigestValue>`+
			`</xades:CertDigest>`+
			`<xades:IssuerSerial>`+
			`<ds:X509IssuerName>%s</ds:X509IssuerName>`+
			`<ds:X509SerialNumber>%s</ds:X509SerialNumber>`+
			`</xades:IssuerSerial>`+
			`</xades:Cert></xades:SigningCertificate>`+
			`<xades:SignaturePolicyIdentifier><xades:SignaturePolicyId>`+
			`<xades:SigPolicyId><xades:Identifier>%s</xades:Identifier></xades:SigPolicyId>`+
			`<xades:SigPolicyHash>`+
			`<ds:DigestMethod Algorithm=%q></ds:DigestMethod>`+
			`<ds:DigestValue>%s</ds:DigestValue>`+
			`</xades:SigPolicyHash>`+
			`</xades:SignaturePolicyId></xades:SignaturePolicyIdentifier>`+
			`</xades:SignedSignatureProperties>`+
			`</xades:SignedProperties>`,
		NamespaceDS, NamespaceXAdES, signedPropsID,
		signingTime.UTC().Format(time.RFC3339),
		AlgSHA256, certDigest,
		escapeText(cert.Issuer.String()), cert.SerialNumber.String(),
		SignaturePolicyURL, AlgSHA256, SignaturePolicyHash,
	))
	signedPropsDigest := digest(signedProps)

	// 3. KeyInfo con el certificado X.509 en base64
	keyInfo := normalize(fmt.Sprintf(
		`<ds:KeyInfo xmlns:ds=%q Id=%q>`+
			`<ds:X509Data><ds:X509Certificate>%s</ds:X509Certificate></ds:X509Data>`+
			`</ds:KeyInfo>`,
		NamespaceDS, keyInfoID, certB64,
	))
	keyInfoDigest := digest(keyInfo)

	// 4. SignedInfo con los tres digests
	signedInfo := normalize(fmt.Sprintf(
		`<ds:SignedInfo xmlns:ds=%q Id=%q>`+
			`<ds:CanonicalizationMethod Algorithm=%q></ds:CanonicalizationMethod>`+
			`<ds:SignatureMethod Algorithm=%q></ds:SignatureMethod>`+
			`<ds:Reference Id=%q URI="">`+
			`<ds:Transforms><ds:Transform Algorithm=%q></ds:Transform></ds:Transforms>`+
			`<ds:DigestMethod Algorithm=%q></ds:DigestMethod>`+
			`<ds:DigestValue>%s</ds:DigestValue>`+
			`</ds:Reference>`+
			`<ds:Reference URI="#%s">`+
			`<ds:DigestMethod Algorithm=%q></ds:DigestMethod>`+
			`<ds:DigestValue>%s</ds:DigestValue>`+
			`</ds:Reference>`+
			`<ds:Reference Type=%q URI="#%s">`+
			`<ds:DigestMethod Algorithm=%q></ds:DigestMethod>`+
			`<ds:DigestValue>%s</ds:DigestValue>`+
			`</ds:Reference>`+
			`</ds:SignedInfo>`,
		NamespaceDS, signedInfoID,
		AlgC14N, AlgRSASHA256,
		refDocID, TransformEnveloped, AlgSHA256, docDigest,
		keyInfoID, AlgSHA256, keyInfoDigest,
		TypeSignedProperties, signedPropsID, AlgSHA256, signedPropsDigest,
	))

	// 5. firma RSA-SHA256 sobre el digest del SignedInfo normalizado
	signedInfoSum := sha256.Sum256([]byte(signedInfo))
	sigBytes, err := s.identity.PrivateKey.Sign(rand.Reader, signedInfoSum[:], crypto.SHA256)
	if err != nil {
		return nil, errors.Wrap(err, "sign SignedInfo")
	}
	sigValue := base64.StdEncoding.EncodeToString(sigBytes)

	// 6. bloque completo, inyectado antes del cierre del elemento raíz
	signature := fmt.Sprintf(
		`<ds:Signature xmlns:ds=%q xmlns:xades=%q Id=%q>`+
			`%s`+
			`<ds:SignatureValue Id=%q>%s</ds:SignatureValue>`+
			`%s`+
			`<ds:Object><xades:QualifyingProperties Target="#%s">%s</xades:QualifyingProperties></ds:Object>`+
			`</ds:Signature>`,
		NamespaceDS, NamespaceXAdES, sigID,
		signedInfo,
		sigValueID, sigValue,
		keyInfo,
		sigID, signedProps,
	)

	idx := bytes.LastIndex(doc, []byte("</"))
	if idx < 0 {
		return nil, errors.New("document has no closing root tag")
	}

	out := make([]byte, 0, len(doc)+len(signature))
	out = append(out, doc[:idx]...)
	out = append(out, signature...)
	out = append(out, doc[idx:]...)
	return out, nil
}

// Verify valida una firma embebida contra los bytes exactos del documento
// previo a la inyección, usando la llave pública del certificado embebido.
func Verify(signed []byte) error {
	start := bytes.Index(signed, []byte("<ds:Signature "))
	end := bytes.Index(signed, []byte("</ds:Signature>"))
	if start < 0 || end < 0 {
		return errors.New("no embedded signature")
	}
	end += len("</ds:Signature>")

	original := make([]byte, 0, len(signed)-(end-start))
	original = append(original, signed[:start]...)
	original = append(original, signed[end:]...)

	signedInfo, err := extract(signed, "<ds:SignedInfo", "</ds:SignedInfo>")
	if err != nil {
		return err
	}
	keyInfo, err := extract(signed, "<ds:KeyInfo", "</ds:KeyInfo>")
	if err != nil {
		return err
	}
	signedProps, err := extract(signed, "<xades:SignedProperties", "</xades:SignedProperties>")
	if err != nil {
		return err
	}

	// digests de referencia, en el mismo orden del SignedInfo
	sum := sha256.Sum256(original)
	expected := []string{
		base64.StdEncoding.EncodeToString(sum[:]),
		digest(keyInfo),
		digest(signedProps),
	}
	got := textValues(signedInfo, "<ds:DigestValue>", "</ds:DigestValue>")
	if len(got) != len(expected) {
		return errors.Errorf("expected %d references, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			return errors.Errorf("reference %d digest mismatch", i)
		}
	}

	certB64 := textValues(keyInfo, "<ds:X509Certificate>", "</ds:X509Certificate>")
	if len(certB64) != 1 {
		return errors.New("KeyInfo has no certificate")
	}
	pub, err := parseCertPublicKey(certB64[0])
	if err != nil {
		return err
	}

	sigValues := textValues(signed, "<ds:SignatureValue", "</ds:SignatureValue>")
	if len(sigValues) != 1 {
		return errors.New("no signature value")
	}
	// quitar los atributos del elemento
	sigText := sigValues[0]
	if i := strings.IndexByte(sigText, '>'); i >= 0 {
		sigText = sigText[i+1:]
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sigText)
	if err != nil {
		return errors.Wrap(err, "decode signature value")
	}

	signedInfoSum := sha256.Sum256([]byte(normalize(signedInfo)))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, signedInfoSum[:], sigBytes); err != nil {
		return errors.Wrap(err, "verify SignedInfo signature")
	}
	return nil
}

func parseCertPublicKey(certB64 string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return nil, errors.Wrap(err, "decode cert")
	}
	xc, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrap(err, "parse x509")
	}
	pub, ok := xc.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("certificate does not carry an RSA key (type %T)", xc.PublicKey)
	}
	return pub, nil
}

func extract(data []byte, open, close string) (string, error) {
	start := bytes.Index(data, []byte(open))
	end := bytes.Index(data, []byte(close))
	if start < 0 || end < 0 || end < start {
		return "", errors.Errorf("block %s not found", open)
	}
	return string(data[start : end+len(close)]), nil
}

func textValues(data interface{}, open, close string) []string {
	var s string
	switch v := data.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	}

	var out []string
	for {
		i := strings.Index(s, open)
		if i < 0 {
			return out
		}
		s = s[i+len(open):]
		j := strings.Index(s, close)
		if j < 0 {
			return out
		}
		out = append(out, s[:j])
		s = s[j+len(close):]
	}
}

func escapeText(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
