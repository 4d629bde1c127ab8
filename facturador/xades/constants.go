package xades

// Namespaces y algoritmos XMLDSig / XAdES 1.3.2.
const (
	NamespaceDS    = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES = "http://uri.etsi.org/01903/v1.3.2#"

	AlgC14N      = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256    = "http://www.w3.org/2001/04/xmlenc#sha256"

	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	TypeSignedProperties = "http://uri.etsi.org/01903#SignedProperties"
)

// Política de firma de la resolución DGT-R-48-2016 (obligatoria para
// XAdES-EPES). El hash es el SHA-256 del PDF de la política, en Base64.
const (
	SignaturePolicyURL  = "https://www.hacienda.go.cr/ATV/ComprobanteElectronico/docs/esquemas/2016/v4.3/Resolucion_Comprobantes_Electronicos_DGT-R-48-2016_v4.3.pdf"
	SignaturePolicyHash = "0h7Q3dFHhu0bHbcZEgVc07cEcDlquUeG08HG6Iototo="
)
