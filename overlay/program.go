package overlay

import "github.com/GrainArc/SouceGlobe/gpu"

const rasterVertexShader = `
attribute vec3 vertex;
attribute vec2 tcoord;
uniform mat4 modelViewMatrix;
uniform mat4 projectionMatrix;
uniform vec4 textureTransform;
varying vec2 texCoord;
void main(void)
{
	gl_Position = projectionMatrix * modelViewMatrix * vec4(vertex, 1.0);
	texCoord = tcoord * textureTransform.xy + textureTransform.zw;
}
`

const rasterFragmentShader = `
precision lowp float;
varying vec2 texCoord;
uniform sampler2D overlayTexture;
uniform float opacity;
void main(void)
{
	gl_FragColor = texture2D(overlayTexture, texCoord);
	gl_FragColor.a *= opacity;
}
`

const vectorVertexShader = `
attribute vec3 vertex;
uniform float zOffset;
uniform float pointSize;
uniform mat4 modelViewMatrix;
uniform mat4 projectionMatrix;
void main(void)
{
	gl_Position = projectionMatrix * modelViewMatrix * vec4(vertex.x, vertex.y, vertex.z + zOffset, 1.0);
	gl_PointSize = pointSize;
}
`

const vectorFragmentShader = `
precision highp float;
uniform vec4 color;
void main(void)
{
	gl_FragColor = color;
}
`

func newRasterProgram(device gpu.Device) (gpu.Program, error) {
	return device.CreateProgram(rasterVertexShader, rasterFragmentShader)
}

func newVectorProgram(device gpu.Device) (gpu.Program, error) {
	return device.CreateProgram(vectorVertexShader, vectorFragmentShader)
}
